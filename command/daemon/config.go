// Package daemon wires the pool controller's control loops, store, and
// admin HTTP surface into a long-running process, grounded on the
// teacher's command/daemon package.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config stores the system configuration, loaded from the environment per
// spec.md §6's table.
type Config struct {
	Debug bool   `envconfig:"DEBUG"`
	Env   string `envconfig:"APP_ENV" default:"development"`

	Server struct {
		Addr string `envconfig:"HTTP_BIND" default:":3000"`
	}

	Database struct {
		Driver     string `envconfig:"DATABASE_DRIVER" default:"postgres"`
		Datasource string `envconfig:"DATABASE_DATASOURCE"`
	}

	Pool struct {
		Provider        string `envconfig:"VM_PROVIDER" default:"noop"`
		Region          string `envconfig:"VM_REGION"`
		Large           bool   `envconfig:"VM_LARGE"`
		MinSize         int    `envconfig:"VM_POOL_MIN_SIZE"`
		LimitSize       int    `envconfig:"VM_POOL_LIMIT_SIZE"`
		TagPrefix       string `envconfig:"VBROWSER_TAG" default:"vbrowser-"`
		RampDownHours   string `envconfig:"VM_POOL_RAMP_DOWN_HOURS"`
		RampUpHours     string `envconfig:"VM_POOL_RAMP_UP_HOURS"`
		MinUptimeMinute int    `envconfig:"VM_MIN_UPTIME_MINUTES" default:"50"`
	}

	Probe struct {
		BootAgeBoundSeconds int64 `envconfig:"VM_BOOT_AGE_BOUND_SECONDS" default:"60000"`
	}

	EC2 struct {
		AccessKeyID     string   `envconfig:"AWS_ACCESS_KEY_ID"`
		SecretAccessKey string   `envconfig:"AWS_SECRET_ACCESS_KEY"`
		AMI             string   `envconfig:"AWS_AMI"`
		Size            string   `envconfig:"AWS_INSTANCE_SIZE" default:"t3.medium"`
		LargeSize       string   `envconfig:"AWS_INSTANCE_SIZE_LARGE" default:"t3.xlarge"`
		SubnetID        string   `envconfig:"AWS_SUBNET_ID"`
		SecurityGroups  []string `envconfig:"AWS_SECURITY_GROUPS"`
		MinRetries      int      `envconfig:"AWS_MIN_RETRIES" default:"3"`
	}

	DigitalOcean struct {
		Token      string `envconfig:"DIGITALOCEAN_TOKEN"`
		Image      string `envconfig:"DIGITALOCEAN_IMAGE"`
		Size       string `envconfig:"DIGITALOCEAN_SIZE" default:"s-2vcpu-4gb"`
		LargeSize  string `envconfig:"DIGITALOCEAN_SIZE_LARGE" default:"s-4vcpu-8gb"`
		MinRetries int    `envconfig:"DIGITALOCEAN_MIN_RETRIES" default:"3"`
	}
}

// RampDownWindow parses VM_POOL_RAMP_DOWN_HOURS's "a,b" format, reporting
// ok=false when the key was left empty.
func (c Config) RampDownWindow() (start, end int, ok bool) {
	return parseHourWindow(c.Pool.RampDownHours)
}

// RampUpWindow parses VM_POOL_RAMP_UP_HOURS's "a,b" format.
func (c Config) RampUpWindow() (start, end int, ok bool) {
	return parseHourWindow(c.Pool.RampUpHours)
}

func parseHourWindow(raw string) (start, end int, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, false
	}
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	s, errS := strconv.Atoi(strings.TrimSpace(parts[0]))
	e, errE := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errS != nil || errE != nil {
		return 0, 0, false
	}
	return s, e, true
}

// FromEnviron loads Config from the process environment, optionally
// preloaded from an .env file.
func FromEnviron() (Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return config, err
	}
	if config.Database.Datasource == "" && config.Pool.Provider != "noop" {
		return config, fmt.Errorf("daemon: DATABASE_DATASOURCE is required for provider %q", config.Pool.Provider)
	}
	return config, nil
}

// LoadEnvFile loads envfile into the process environment if it exists,
// matching the teacher's tolerant-of-a-missing-file behavior.
func LoadEnvFile(envfile string) error {
	if envfile == "" {
		return nil
	}
	if err := godotenv.Load(envfile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
