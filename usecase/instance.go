package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/AzielCF/az-dispatch/core/config"
	domainInstance "github.com/AzielCF/az-dispatch/domains/instance"
	"github.com/AzielCF/az-dispatch/messaging"
	"github.com/AzielCF/az-dispatch/messaging/domain/instance"
	pkgError "github.com/AzielCF/az-dispatch/pkg/error"
	"github.com/AzielCF/az-dispatch/pkg/pairingqr"
	"github.com/AzielCF/az-dispatch/validations"
	"github.com/sirupsen/logrus"
)

const pairingQRSize = 512

type instanceService struct {
	manager  *messaging.Manager
	basePath string
}

func NewInstanceService(manager *messaging.Manager, cfg *config.Config) domainInstance.IInstanceUsecase {
	basePath := ""
	if cfg != nil {
		basePath = strings.TrimRight(cfg.App.BasePath, "/")
	}
	return &instanceService{
		manager:  manager,
		basePath: basePath,
	}
}

func (service *instanceService) Create(ctx context.Context, request domainInstance.CreateInstanceRequest) (domainInstance.Instance, error) {
	request.Name = strings.TrimSpace(request.Name)
	request.Credential = strings.TrimSpace(request.Credential)
	if err := validations.ValidateCreateInstance(ctx, request); err != nil {
		return domainInstance.Instance{}, err
	}

	id, err := service.manager.CreateInstance(ctx, request.Name, request.Credential)
	if err != nil {
		return domainInstance.Instance{}, translateError(err)
	}

	inst, err := service.manager.GetInstance(ctx, id)
	if err != nil {
		return domainInstance.Instance{}, translateError(err)
	}
	logrus.WithField("instance_id", id).Infof("[INSTANCE] created %q (%s)", inst.Name, inst.Status)
	return toInstanceDTO(inst), nil
}

func (service *instanceService) List(ctx context.Context) ([]domainInstance.Instance, error) {
	list, err := service.manager.ListInstances(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	result := make([]domainInstance.Instance, 0, len(list))
	for _, inst := range list {
		result = append(result, toInstanceDTO(inst))
	}
	return result, nil
}

func (service *instanceService) GetByID(ctx context.Context, id string) (domainInstance.Instance, error) {
	inst, err := service.manager.GetInstance(ctx, strings.TrimSpace(id))
	if err != nil {
		return domainInstance.Instance{}, translateError(err)
	}
	return toInstanceDTO(inst), nil
}

func (service *instanceService) Status(ctx context.Context, id string) (domainInstance.StatusResponse, error) {
	id = strings.TrimSpace(id)
	status, err := service.manager.GetInstanceStatus(ctx, id)
	if err != nil {
		return domainInstance.StatusResponse{}, translateError(err)
	}
	return domainInstance.StatusResponse{ID: id, Status: string(status)}, nil
}

func (service *instanceService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return pkgError.ValidationError("id: cannot be blank")
	}
	return translateError(service.manager.RemoveInstance(ctx, id))
}

func (service *instanceService) StartPairing(ctx context.Context, id string) (domainInstance.PairingResponse, error) {
	inst, err := service.manager.StartPairing(ctx, strings.TrimSpace(id))
	if err != nil {
		return domainInstance.PairingResponse{}, translateError(err)
	}
	return domainInstance.PairingResponse{
		InstanceID:   inst.ID,
		Status:       string(inst.Status),
		PairingToken: inst.PairingToken,
		QRCodeURL:    fmt.Sprintf("%s/api/instances/%s/qr", service.basePath, inst.ID),
	}, nil
}

func (service *instanceService) CancelPairing(ctx context.Context, id string) error {
	return translateError(service.manager.CancelPairing(ctx, strings.TrimSpace(id)))
}

// PairingQRCode renders the current pairing token. It fails with a state error
// when no pairing session is open.
func (service *instanceService) PairingQRCode(ctx context.Context, id string) ([]byte, error) {
	inst, err := service.manager.GetInstance(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, translateError(err)
	}
	if inst.Status != instance.StatusAwaitingConfirmation || inst.PairingToken == "" {
		return nil, pkgError.StateError{Code: "NO_PAIRING_SESSION", Message: "instance has no open pairing session"}
	}

	png, err := pairingqr.PNG(inst.PairingToken, pairingQRSize)
	if err != nil {
		return nil, pkgError.InternalServerError(err.Error())
	}
	return png, nil
}

func toInstanceDTO(inst instance.Instance) domainInstance.Instance {
	return domainInstance.Instance{
		ID:           inst.ID,
		Name:         inst.Name,
		Status:       string(inst.Status),
		PairingToken: inst.PairingToken,
		RetryCount:   inst.RetryCount,
		CreatedAt:    inst.CreatedAt,
		UpdatedAt:    inst.UpdatedAt,
	}
}
