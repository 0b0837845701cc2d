// internal/firewall/firewall.go
//
// Outbound firewall sync.
//
// Context
// -------
// Hosts running UFW block outbound traffic by default, which silently
// breaks connections to freshly registered tenant databases.  Sync
// opens an outbound TCP rule for every database host:port found in the
// registry.  Everything here is best effort: a missing ufw binary, a
// disabled firewall, or a permission error is swallowed, never allowed
// to affect request serving.
package firewall

import (
	"context"
	"net"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/guildlogs/panel/internal/connman"
	"github.com/guildlogs/panel/internal/registry"
)

const cmdTimeout = 5 * time.Second

// TenantLister yields the current registry records.
type TenantLister interface {
	All() map[string]registry.Tenant
}

// Sync reconciles UFW outbound rules with the registry's database
// hosts.  Safe to call at startup and after tenant mutations.
func Sync(ctx context.Context, reg TenantLister) {
	hosts := databaseHosts(reg)
	if len(hosts) == 0 {
		return
	}

	rules, ok := currentRules(ctx)
	if !ok {
		return // ufw missing or inactive
	}

	changed := false
	for _, hp := range hosts {
		host, port, err := net.SplitHostPort(hp)
		if err != nil {
			continue
		}
		if strings.Contains(rules, port+"/tcp") && strings.Contains(rules, "ALLOW OUT") {
			continue
		}
		run(ctx, "ufw", "allow", "out", "to", "any", "port", port, "proto", "tcp",
			"comment", "MySQL "+host)
		changed = true
	}

	if changed {
		run(ctx, "ufw", "reload")
		zap.S().Infow("firewall rules synchronized", "hosts", len(hosts))
	}
}

// databaseHosts collects the distinct network host:port targets.
func databaseHosts(reg TenantLister) []string {
	seen := make(map[string]struct{})
	var hosts []string
	for _, t := range reg.All() {
		target, err := connman.ParseURI(t.DatabaseURI)
		if err != nil || target.Host == "" {
			continue
		}
		if _, dup := seen[target.Host]; dup {
			continue
		}
		seen[target.Host] = struct{}{}
		hosts = append(hosts, target.Host)
	}
	return hosts
}

// currentRules fetches the numbered rule listing.  ok=false means UFW
// is unusable here and the sync should quietly stop.
func currentRules(ctx context.Context) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, cmdTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ufw", "status", "numbered").Output()
	if err != nil {
		return "", false
	}
	return string(out), true
}

// run executes one ufw command, ignoring its outcome.
func run(ctx context.Context, name string, args ...string) {
	ctx, cancel := context.WithTimeout(ctx, cmdTimeout)
	defer cancel()

	if err := exec.CommandContext(ctx, name, args...).Run(); err != nil {
		zap.S().Debugw("firewall command failed", "cmd", name, "args", args, "error", err)
	}
}
