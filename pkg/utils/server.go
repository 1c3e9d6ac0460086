package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const serverIDFile = ".server_id"

// GetPersistentServerID names this process in logs and valkey leases. An
// explicit override wins, then an ID saved under storagePath, then the
// hostname. A random ID is generated and saved as a last resort.
func GetPersistentServerID(override, storagePath string) string {
	if id := strings.TrimSpace(override); id != "" {
		return id
	}

	idFile := filepath.Join(storagePath, serverIDFile)
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	if host := sanitizeHost(hostname()); host != "" {
		return "azdispatch-" + host
	}

	id := "azdispatch-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	if err := CreateFolder(storagePath); err == nil {
		if err := os.WriteFile(idFile, []byte(id), 0644); err != nil {
			logrus.Debugf("[SERVER] could not persist server id: %v", err)
		}
	}
	return id
}

var hostname = func() string {
	h, err := os.Hostname()
	if err != nil || h == "localhost" {
		return ""
	}
	return h
}

func sanitizeHost(host string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, host)
}
