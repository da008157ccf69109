package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the relaybot background service",
	}
	cmd.AddCommand(installDaemonCmd(), uninstallDaemonCmd())
	return cmd
}

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install relaybot as a user service (launchd/systemd)",
		Long:  "Writes a service file that runs 'relaybot run' with the current config at login and restarts it on failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := serviceForOS(runtime.GOOS)
			if err != nil {
				return err
			}
			vars, err := serviceVars()
			if err != nil {
				return err
			}
			return svc.install(vars)
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the relaybot user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := serviceForOS(runtime.GOOS)
			if err != nil {
				return err
			}
			return svc.uninstall()
		},
	}
}

// userService describes how one init system runs relaybot for the
// current user.
type userService struct {
	dir      []string // below the home directory
	file     string
	template string
	hints    []string // printed after install, %s is the service file
}

func serviceForOS(goos string) (userService, error) {
	switch goos {
	case "darwin":
		return userService{
			dir:      []string{"Library", "LaunchAgents"},
			file:     launchdLabel + ".plist",
			template: launchdTemplate,
			hints:    []string{"launchctl load %s", "launchctl unload %s"},
		}, nil
	case "linux":
		return userService{
			dir:      []string{".config", "systemd", "user"},
			file:     systemdUnit,
			template: systemdTemplate,
			hints: []string{
				"systemctl --user daemon-reload",
				"systemctl --user enable --now " + systemdUnit,
				"journalctl --user -u " + systemdUnit + " -f",
			},
		}, nil
	default:
		return userService{}, fmt.Errorf("no user service support on %s, only darwin and linux", goos)
	}
}

// serviceVars collects the values substituted into the service templates.
func serviceVars() (map[string]string, error) {
	cfgPath, err := filepath.Abs(config.ExpandPath(resolveConfigPath()))
	if err != nil {
		return nil, err
	}
	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot determine executable path: %w", err)
	}
	logDir := filepath.Join(config.DefaultConfigDir(), "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	return map[string]string{
		"EXEC":    execPath,
		"CONFIG":  cfgPath,
		"WORKDIR": workDir,
		"LABEL":   launchdLabel,
		"LOG":     filepath.Join(logDir, "relaybot.log"),
		"ERR_LOG": filepath.Join(logDir, "relaybot-error.log"),
	}, nil
}

func (s userService) path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, s.dir...), s.file)...), nil
}

func (s userService) install(vars map[string]string) error {
	path, err := s.path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(renderServiceFile(s.template, vars)), 0o644); err != nil {
		return fmt.Errorf("write service file: %w", err)
	}

	fmt.Println("wrote", path)
	fmt.Println("next:")
	for _, h := range s.hints {
		if strings.Contains(h, "%s") {
			h = fmt.Sprintf(h, path)
		}
		fmt.Println("  " + h)
	}
	return nil
}

func (s userService) uninstall() error {
	path, err := s.path()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove service file: %w", err)
	}
	fmt.Println("removed", path)
	return nil
}

const (
	launchdLabel = "com.relaybot.relay"
	systemdUnit  = "relaybot.service"
)

// renderServiceFile fills {{KEY}} placeholders in tmpl.
func renderServiceFile(tmpl string, vars map[string]string) string {
	for k, v := range vars {
		tmpl = strings.ReplaceAll(tmpl, "{{"+k+"}}", v)
	}
	return tmpl
}

// Both templates start in WORKDIR so relaybot picks up the .env kept there.
const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key><string>{{LABEL}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{EXEC}}</string>
		<string>run</string>
		<string>--config</string>
		<string>{{CONFIG}}</string>
	</array>
	<key>WorkingDirectory</key><string>{{WORKDIR}}</string>
	<key>RunAtLoad</key><true/>
	<key>KeepAlive</key>
	<dict>
		<key>SuccessfulExit</key><false/>
	</dict>
	<key>ThrottleInterval</key><integer>10</integer>
	<key>StandardOutPath</key><string>{{LOG}}</string>
	<key>StandardErrorPath</key><string>{{ERR_LOG}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=relaybot (Telegram to backend relay)
Wants=network-online.target
After=network-online.target

[Service]
WorkingDirectory={{WORKDIR}}
ExecStart={{EXEC}} run --config {{CONFIG}}
Restart=on-failure
RestartSec=10
TimeoutStopSec=60

[Install]
WantedBy=default.target
`
