// Package secrets resolves credentials referenced from the configuration:
// ${VAR} placeholders in values and Docker/Kubernetes style secret files.
// Secret values are never logged.
package secrets

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
)

// maxFileSize bounds secret file reads; secrets are tokens, not documents.
const maxFileSize = 64 * 1024

// placeholder matches ${VAR} and ${VAR:-fallback}. A bare $ is left alone
// so literal passwords containing one survive.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Expand replaces the ${VAR} placeholders of s with environment values. A
// placeholder with a fallback uses it when the variable is unset or empty;
// one without fails the expansion.
func Expand(s string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	var missing []string
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		if v := os.Getenv(sub[1]); v != "" {
			return v
		}
		if sub[2] != "" {
			return sub[3]
		}
		missing = append(missing, sub[1])
		return ""
	})
	if len(missing) > 0 {
		return "", errors.Newf("missing environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return out, nil
}

// ReadFile returns the contents of a secret file without trailing line
// breaks. Files readable by group or others are accepted with a warning.
func ReadFile(path string) (string, error) {
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return "", fileError(clean, err)
	}
	switch {
	case !info.Mode().IsRegular():
		return "", fileError(clean, errors.NewStd("not a regular file"))
	case info.Size() > maxFileSize:
		return "", fileError(clean, errors.NewStd("file too large"))
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module("secrets").Warn("secret file is accessible to group or others",
			logger.String("path", clean),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", fileError(clean, err)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError(clean, errors.NewStd("file is empty"))
	}
	return secret, nil
}

func fileError(path string, err error) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Build()
}

// Resolve returns the secret from filePath when set, otherwise value with
// its placeholders expanded.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	return Expand(value)
}
