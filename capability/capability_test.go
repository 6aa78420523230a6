package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectNeverFails(t *testing.T) {
	m := Detect(context.Background())
	require.NotNil(t, m)
	assert.NotEmpty(t, m.Platform)
	assert.Contains(t, m.ServiceCommands, Network)
	assert.Contains(t, m.ServiceCommands, SSH)
	assert.Contains(t, m.ServiceCommands, Firewall)
	assert.Contains(t, m.ServiceCommands, Service)
	assert.Contains(t, m.ServiceCommands, System)
}

func TestUnknownPlatformFallsBackToDebianFamily(t *testing.T) {
	cmds := commandsForFamily(familyUnknown, true)
	assert.Equal(t, "systemctl restart networking", cmds[Network].Restart)
	assert.Equal(t, "systemctl restart ssh", cmds[SSH].Restart)
	assert.Equal(t, "systemctl restart ufw", cmds[Firewall].Restart)
}

func TestNonSystemdFallsBackToServiceCommand(t *testing.T) {
	cmds := commandsForFamily(familyDebian, false)
	assert.Equal(t, "service networking restart", cmds[Network].Restart)
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "ubuntu", unquote(`"ubuntu"`))
	assert.Equal(t, "debian", unquote("debian"))
}
