package daemon

import (
	"context"
	"net/http"

	"github.com/drone/signal"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/vbrowser-pool/controller/internal/controller"
	"github.com/vbrowser-pool/controller/internal/httpapi"
	"github.com/vbrowser-pool/controller/internal/metrics"
	"github.com/vbrowser-pool/controller/internal/providers"
	"github.com/vbrowser-pool/controller/internal/providers/digitalocean"
	"github.com/vbrowser-pool/controller/internal/providers/ec2"
	"github.com/vbrowser-pool/controller/internal/providers/noop"
	"github.com/vbrowser-pool/controller/internal/store"
	"github.com/vbrowser-pool/controller/internal/store/memory"
	storesql "github.com/vbrowser-pool/controller/internal/store/sql"
	"github.com/vbrowser-pool/controller/types"
)

// empty context.
var nocontext = context.Background()

type daemonCommand struct {
	envFile string
}

func (c *daemonCommand) run(*kingpin.ParseContext) error {
	if err := LoadEnvFile(c.envFile); err != nil {
		return err
	}

	env, err := FromEnviron()
	if err != nil {
		return err
	}
	setupLogger(&env)

	ctx, cancel := context.WithCancel(nocontext)
	defer cancel()
	ctx = signal.WithContextFunc(ctx, func() {
		logrus.Infoln("daemon: received signal, terminating process")
		cancel()
	})

	pool, err := buildPoolConfig(env)
	if err != nil {
		logrus.WithError(err).Fatalln("daemon: invalid pool configuration")
	}

	s, err := openStore(ctx, env)
	if err != nil {
		logrus.WithError(err).Fatalln("daemon: unable to open the state store")
	}

	adapter, err := buildAdapter(ctx, env)
	if err != nil {
		logrus.WithError(err).Fatalln("daemon: unable to build the provider adapter")
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	pm := controller.New(pool, controller.Config{
		UptimeFloorSeconds:  int64(env.Pool.MinUptimeMinute) * 60,
		Production:          env.Env == "production",
		BootAgeBoundSeconds: env.Probe.BootAgeBoundSeconds,
	}, adapter, s, m)

	logrus.WithField("pool", pool.Name()).Infoln("daemon: starting background jobs")
	pm.StartBackgroundJobs(ctx)
	defer pm.Shutdown()

	reg := httpapi.NewPoolRegistry(map[string]*controller.PoolManager{pool.Name(): pm})
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", httpapi.Router(reg))
	srv := &http.Server{
		Addr:    env.Server.Addr,
		Handler: mux,
	}

	errc := make(chan error, 1)
	go func() {
		logrus.WithField("addr", env.Server.Addr).Infoln("daemon: starting the admin http server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildPoolConfig(env Config) (types.PoolConfig, error) {
	pool := types.PoolConfig{
		ProviderID:       env.Pool.Provider,
		Region:           env.Pool.Region,
		Large:            env.Pool.Large,
		MinSize:          env.Pool.MinSize,
		LimitSize:        env.Pool.LimitSize,
		TagPrefix:        env.Pool.TagPrefix,
		MinUptimeSeconds: env.Pool.MinUptimeMinute * 60,
	}
	if start, end, ok := env.RampDownWindow(); ok {
		pool.HasRampDown = true
		pool.RampDownHours = [2]int{start, end}
	}
	if start, end, ok := env.RampUpWindow(); ok {
		pool.HasRampUp = true
		pool.RampUpHours = [2]int{start, end}
	}
	return pool, nil
}

func openStore(ctx context.Context, env Config) (store.VMRecordStore, error) {
	if env.Pool.Provider == "noop" {
		return memory.New(), nil
	}
	db, err := storesql.Open(ctx, env.Database.Datasource)
	if err != nil {
		return nil, err
	}
	return storesql.NewVMRecordStore(db), nil
}

func buildAdapter(ctx context.Context, env Config) (providers.Adapter, error) {
	switch env.Pool.Provider {
	case "ec2":
		return ec2.New(ctx, ec2.Config{
			Region:          env.Pool.Region,
			AccessKeyID:     env.EC2.AccessKeyID,
			SecretAccessKey: env.EC2.SecretAccessKey,
			AMI:             env.EC2.AMI,
			Size:            env.EC2.Size,
			LargeSize:       env.EC2.LargeSize,
			SubnetID:        env.EC2.SubnetID,
			SecurityGroups:  env.EC2.SecurityGroups,
			MinRetries:      env.EC2.MinRetries,
		})
	case "digitalocean":
		return digitalocean.New(digitalocean.Config{
			Token:      env.DigitalOcean.Token,
			Region:     env.Pool.Region,
			Image:      env.DigitalOcean.Image,
			Size:       env.DigitalOcean.Size,
			LargeSize:  env.DigitalOcean.LargeSize,
			MinRetries: env.DigitalOcean.MinRetries,
		}), nil
	default:
		return noop.New(), nil
	}
}

func setupLogger(c *Config) {
	if c.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{})
}

// Register the daemon command.
func Register(app *kingpin.Application) {
	c := new(daemonCommand)

	cmd := app.Command("daemon", "starts the pool controller daemon").
		Default().
		Action(c.run)
	cmd.Flag("envfile", "load the environment variable file").
		Default("").
		StringVar(&c.envFile)
}
