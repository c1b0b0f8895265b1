package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"
)

// resolveTimeout bounds external lookups (op, shell commands, DNS).
const resolveTimeout = 30 * time.Second

// ResolveValue expands the magic forms accepted in secret and URL settings:
//   - op://vault/item/field -> 1Password secret (via `op read`)
//   - srv://record/path -> DNS SRV lookup, returned as https://host:port/path
//   - $(...) -> shell command output
//   - ${VAR} or $VAR -> environment variable
//
// Anything else is returned as-is.
func ResolveValue(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	switch {
	case strings.HasPrefix(value, "op://"):
		return resolveOnePassword(ctx, value)
	case strings.HasPrefix(value, "srv://"):
		return resolveSRV(ctx, value)
	case strings.HasPrefix(value, "$(") && strings.HasSuffix(value, ")"):
		return resolveCommand(ctx, value[2:len(value)-1])
	case strings.HasPrefix(value, "$"):
		return os.Expand(value, os.Getenv), nil
	default:
		return value, nil
	}
}

// resolveOnePassword reads op://vault/item/field[?account=...].
func resolveOnePassword(ctx context.Context, opURL string) (string, error) {
	u, err := url.Parse(opURL)
	if err != nil {
		return "", fmt.Errorf("1password: invalid URL %s: %w", opURL, err)
	}
	ref := fmt.Sprintf("op://%s%s", u.Host, u.Path)

	args := []string{"read", ref}
	if account := u.Query().Get("account"); account != "" {
		args = append(args, "--account", account)
	}
	out, err := runOutput(exec.CommandContext(ctx, "op", args...))
	if err != nil {
		return "", fmt.Errorf("1password: failed to read %s: %w (is 'op' installed and signed in?)", ref, err)
	}
	return out, nil
}

// resolveSRV turns srv://_service._proto.domain/path into an https URL
// using the highest priority SRV target.
func resolveSRV(ctx context.Context, srvURL string) (string, error) {
	u, err := url.Parse(srvURL)
	if err != nil {
		return "", fmt.Errorf("invalid srv:// URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("srv:// URL missing host: %s", srvURL)
	}

	_, addrs, err := net.DefaultResolver.LookupSRV(ctx, "", "", u.Host)
	if err != nil {
		return "", fmt.Errorf("SRV lookup failed for %s: %w", u.Host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no SRV records found for %s", u.Host)
	}
	host := strings.TrimSuffix(addrs[0].Target, ".")
	return fmt.Sprintf("https://%s:%d%s", host, addrs[0].Port, u.Path), nil
}

func resolveCommand(ctx context.Context, cmd string) (string, error) {
	out, err := runOutput(exec.CommandContext(ctx, "sh", "-c", cmd))
	if err != nil {
		return "", fmt.Errorf("command failed: %w", err)
	}
	return out, nil
}

func runOutput(cmd *exec.Cmd) (string, error) {
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", errors.New(strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
