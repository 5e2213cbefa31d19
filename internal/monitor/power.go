package monitor

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"codeberg.org/mutker/yombcpu/internal/errors"
)

const commandTimeout = 5 * time.Second

const (
	ErrEmptyCommand = errors.ErrorCode("monitor_empty_command")
	ErrPowerCommand = errors.ErrorCode("monitor_power_command_failed")
)

func init() {
	errors.Register(ErrEmptyCommand, "Display power command is empty")
	errors.Register(ErrPowerCommand, "Display power command failed")
}

// PowerController forces the display on or off.
type PowerController interface {
	Force(ctx context.Context, on bool) error
}

// Command runs external programs such as "xset dpms force on".
type Command struct {
	On  string
	Off string
}

func (c Command) Force(ctx context.Context, on bool) error {
	errFactory := errors.New()

	line := c.Off
	if on {
		line = c.On
	}
	args := strings.Fields(line)
	if len(args) == 0 {
		return errFactory.New(ErrEmptyCommand)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput(); err != nil {
		return errFactory.Wrap(ErrPowerCommand, err).WithData(strings.TrimSpace(string(out)))
	}

	return nil
}
