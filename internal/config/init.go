package config

import (
	"fmt"
	"os"
)

const starterConfig = `# docdaemon configuration
check_interval: 300
max_containers: 5
api_server: "true"
api_server_port: 5555
# metrics_port: 9105
# builds_dir: /var/lib/docdaemon/builds
# log_dir: /var/lib/docdaemon/logs
autobuild_config: autobuild.yaml
# event_store: /var/lib/docdaemon/events.db
notifications:
  nats_url: ""
  on_success: true
  on_fail: true
  channel_messages: false
`

const starterAutoBuild = `projects:
  - name: example-docs
    branch: main
    repo_dir: /srv/repos/example-docs
    dc_files:
      - DC-example
    notify_targets: []
`

func writeStarterConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	if _, err := os.Stat("autobuild.yaml"); os.IsNotExist(err) || force {
		if err := os.WriteFile("autobuild.yaml", []byte(starterAutoBuild), 0o644); err != nil {
			return fmt.Errorf("write autobuild file: %w", err)
		}
	}
	return nil
}
