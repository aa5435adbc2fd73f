package authority

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/stacklok/npm-step-reconciler/internal/config"
)

// ProvisionerPasswordFile is the file name of the provisioner password inside the secrets dir.
const ProvisionerPasswordFile = "provisioner_pass"

// WriteProvisionerPassword writes the provisioner password to dir (created 0700)
// with mode 0600 and returns the absolute file path.
func WriteProvisionerPassword(dir string, password config.Secret) (string, error) {
	if password.IsEmpty() {
		return "", fmt.Errorf("provisioner password is empty")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve secrets dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return "", fmt.Errorf("create secrets dir: %w", err)
	}

	path := filepath.Join(abs, ProvisionerPasswordFile)
	if err := os.WriteFile(path, []byte(password.Value()), 0o600); err != nil {
		return "", fmt.Errorf("write provisioner password: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("restrict provisioner password: %w", err)
	}
	return path, nil
}
