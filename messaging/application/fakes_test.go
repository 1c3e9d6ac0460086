package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AzielCF/az-dispatch/messaging/domain/job"
	"github.com/AzielCF/az-dispatch/messaging/domain/provider"
)

type sentMessage struct {
	Credential string
	Address    string
	Message    string
	At         time.Time
	Done       time.Time
}

// fakeProvider scripts confirmation answers and records every call.
type fakeProvider struct {
	mu sync.Mutex

	tokenErr   error
	tokenCalls int

	outcomes       []provider.PairingOutcome
	defaultOutcome provider.PairingOutcome
	checkDelay     time.Duration
	checks         int

	sendErrs     map[string]error
	sendDuration time.Duration
	onSend       func(address string)
	sent         []sentMessage

	disconnects int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		defaultOutcome: provider.PairingIndeterminate,
		sendErrs:       make(map[string]error),
	}
}

func (f *fakeProvider) CreateRemoteInstance(ctx context.Context, instanceName string) error {
	return nil
}

func (f *fakeProvider) RequestPairingToken(ctx context.Context, instanceName, credential string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tokenCalls++
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return fmt.Sprintf("token-%s-%d", instanceName, f.tokenCalls), nil
}

func (f *fakeProvider) CheckPairingConfirmation(ctx context.Context, instanceName string) provider.PairingOutcome {
	f.mu.Lock()
	f.checks++
	delay := f.checkDelay
	outcome := f.defaultOutcome
	if len(f.outcomes) > 0 {
		outcome = f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return outcome
}

func (f *fakeProvider) SendMessage(ctx context.Context, credential, address, message string, media *job.Media) (provider.SendAck, error) {
	f.mu.Lock()
	idx := len(f.sent)
	f.sent = append(f.sent, sentMessage{Credential: credential, Address: address, Message: message, At: time.Now()})
	err := f.sendErrs[address]
	hook := f.onSend
	took := f.sendDuration
	f.mu.Unlock()

	if took > 0 {
		time.Sleep(took)
	}
	f.mu.Lock()
	f.sent[idx].Done = time.Now()
	f.mu.Unlock()

	if hook != nil {
		hook(address)
	}
	if err != nil {
		return provider.SendAck{}, err
	}
	return provider.SendAck{MessageID: "msg-" + address}, nil
}

func (f *fakeProvider) Disconnect(ctx context.Context, instanceName, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeProvider) VerifyCredential(ctx context.Context, instanceName, credential string) (provider.ConnectionState, error) {
	return provider.ConnectionClosed, nil
}

func (f *fakeProvider) script(outcomes ...provider.PairingOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcomes...)
}

func (f *fakeProvider) setDefault(outcome provider.PairingOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultOutcome = outcome
}

func (f *fakeProvider) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

func (f *fakeProvider) tokenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls
}

func (f *fakeProvider) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeProvider) sentAddresses() []string {
	var out []string
	for _, m := range f.sentMessages() {
		out = append(out, m.Address)
	}
	return out
}
