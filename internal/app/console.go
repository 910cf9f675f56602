package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/duet/internal/call"
	"github.com/1ureka/duet/internal/util"
)

// errLeave ends the console loop.
var errLeave = errors.New("leave")

const helpText = `camera on|off        enable or disable the outgoing video
mic on|off           enable or disable the outgoing audio
share on|off         start or stop sharing the screen
devices              list capture devices
switch camera <id>   move the outgoing video to another camera
switch mic <id>      move the outgoing audio to another microphone
status               show the call state
leave                leave the call`

// Console executes line commands against one manager.
type Console struct {
	m   *call.Manager
	out io.Writer
}

// NewConsole creates a console writing its replies to out.
func NewConsole(m *call.Manager, out io.Writer) *Console {
	return &Console{m: m, out: out}
}

// Run executes lines from in until "leave", EOF or ctx is done. Failed
// commands are logged and the loop continues.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.Exec(ctx, line)
			if errors.Is(err, errLeave) {
				return nil
			}
			if err != nil {
				util.LogWarning("%v", err)
			}
		}
	}
}

// Exec runs one command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "camera", "mic", "share":
		if len(fields) != 2 {
			return fmt.Errorf("usage: %s on|off", fields[0])
		}
		on, err := parseOnOff(fields[1])
		if err != nil {
			return err
		}
		switch fields[0] {
		case "camera":
			c.m.ToggleCamera(on)
		case "mic":
			c.m.ToggleMic(on)
		default:
			return c.m.ToggleScreenShare(ctx, on)
		}
		return nil

	case "devices":
		return c.devices(ctx)

	case "switch":
		if len(fields) != 3 {
			return errors.New("usage: switch camera|mic <device id>")
		}
		switch fields[1] {
		case "camera":
			return c.m.SwitchCamera(ctx, fields[2])
		case "mic":
			return c.m.SwitchMic(ctx, fields[2])
		}
		return fmt.Errorf("unknown device kind %q", fields[1])

	case "status":
		return c.status()

	case "help":
		_, err := fmt.Fprintln(c.out, helpText)
		return err

	case "leave", "quit", "exit":
		c.m.LeaveCall()
		return errLeave
	}
	return fmt.Errorf("unknown command %q, type \"help\"", fields[0])
}

func (c *Console) devices(ctx context.Context) error {
	list, err := c.m.ListDevices(ctx)
	if err != nil {
		return err
	}
	data := pterm.TableData{{"ID", "Kind", "Label"}}
	for _, d := range list {
		data = append(data, []string{d.ID, string(d.Kind), d.Label})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(c.out).Render()
}

func (c *Console) status() error {
	s := c.m.Snapshot()
	data := pterm.TableData{
		{"Field", "Value"},
		{"Participant", c.m.Participant()},
		{"Session", c.m.Session()},
		{"Camera", onOff(s.CameraOn)},
		{"Mic", onOff(s.MicOn)},
		{"Sharing", onOff(s.IsScreenSharing)},
		{"Camera connection", s.CameraState.String()},
		{"Screen connection", s.ScreenState.String()},
		{"Remote camera", onOff(s.Remote.CameraOn)},
		{"Remote mic", onOff(s.Remote.MicOn)},
		{"Remote sharing", onOff(s.Remote.ScreenSharing)},
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(c.out).Render()
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
