// Package app constructs the single Application value that wires
// every collaborator together at startup (spec §9: "avoid ambient
// globals... make them explicit collaborators owned by an Application
// value constructed at startup and passed in"), mirroring the
// teacher's cmd/flightctl-api/main.go bootstrap sequence of
// config -> store -> services -> servers.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fleetmdm/controlplane/internal/alert"
	"github.com/fleetmdm/controlplane/internal/apiserver"
	"github.com/fleetmdm/controlplane/internal/artifact"
	"github.com/fleetmdm/controlplane/internal/auth"
	"github.com/fleetmdm/controlplane/internal/cache"
	"github.com/fleetmdm/controlplane/internal/config"
	"github.com/fleetmdm/controlplane/internal/deployment"
	"github.com/fleetmdm/controlplane/internal/dispatch"
	"github.com/fleetmdm/controlplane/internal/heartbeat"
	"github.com/fleetmdm/controlplane/internal/partition"
	"github.com/fleetmdm/controlplane/internal/scheduler"
	"github.com/fleetmdm/controlplane/internal/store"
	"github.com/sirupsen/logrus"
)

// Application bundles every collaborator, constructed once per
// process and passed explicitly to whatever needs it (HTTP server,
// worker loops, the CLI).
type Application struct {
	Config      *config.Config
	Log         logrus.FieldLogger
	Store       *store.Store
	Auth        *auth.Authenticator
	Artifacts   *artifact.Service
	Partitions  *partition.Manager
	Ingestor    *heartbeat.Ingestor
	Reconciler  *heartbeat.Reconciler
	Dispatcher  *dispatch.Dispatcher
	AlertEngine *alert.Engine
	Deployments *deployment.Controller
	Cache       *cache.ResponseCache
	Scheduler   *scheduler.Scheduler
	PurgeWorker *scheduler.PurgeWorker

	cleanup []func()
}

// New builds the full dependency graph from cfg. Callers are
// responsible for invoking Close when done.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Application, error) {
	db, err := store.InitDB(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	st := store.NewStore(db, log)
	if err := st.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	authenticator := auth.New(st.Devices, cfg, log)

	blobRoot := os.Getenv("MDM_ARTIFACT_ROOT")
	if blobRoot == "" {
		blobRoot = "./data/artifacts"
	}
	blobstore, err := artifact.NewFileBlobstore(blobRoot)
	if err != nil {
		return nil, fmt.Errorf("initializing artifact store: %w", err)
	}
	artifactSvc := artifact.NewService(blobstore, log)

	partitionMgr := partition.NewManager(st.Partitions, log)
	if err := partitionMgr.EnsureWindow(ctx, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("ensuring partition window: %w", err)
	}

	ingestor := heartbeat.NewIngestor(st.Heartbeats, partitionMgr, log)
	reconciler := heartbeat.NewReconciler(db, st.Heartbeats, partitionMgr)

	var pushProvider dispatch.PushProvider
	if cfg.Push.FirebaseServiceAccountJSON != "" {
		pushProvider, err = dispatch.NewFCMProvider(ctx, []byte(cfg.Push.FirebaseServiceAccountJSON), cfg.Push.FirebaseProjectID)
		if err != nil {
			return nil, fmt.Errorf("initializing FCM provider: %w", err)
		}
	} else {
		pushProvider = noopPushProvider{}
		log.Warn("no FIREBASE_SERVICE_ACCOUNT_JSON configured; push dispatch is a no-op")
	}

	dispatcher := dispatch.New(pushProvider, st.Devices, st.Commands, authenticator, log)

	notifier := alert.Notifier(alert.NewDiscordNotifier(cfg.Webhook.DiscordWebhookURL))
	alertEngine := alert.NewEngine(db, st.Devices, st.Heartbeats, st.Alerts, st.Settings, dispatcher, notifier, cfg, log)

	deploymentCtrl := deployment.NewController(st.Deployments, st.Apks, st.Devices, dispatcher, log)

	responseCache := cache.New(time.Minute)

	sched := scheduler.New(log)
	purgeWorker := scheduler.NewPurgeWorker(db, st.Queue, partitionMgr)

	a := &Application{
		Config:      cfg,
		Log:         log,
		Store:       st,
		Auth:        authenticator,
		Artifacts:   artifactSvc,
		Partitions:  partitionMgr,
		Ingestor:    ingestor,
		Reconciler:  reconciler,
		Dispatcher:  dispatcher,
		AlertEngine: alertEngine,
		Deployments: deploymentCtrl,
		Cache:       responseCache,
		Scheduler:   sched,
		PurgeWorker: purgeWorker,
	}
	a.cleanup = append(a.cleanup, artifactSvc.Stop, responseCache.Stop)

	return a, nil
}

// StartBackgroundWork wires every periodic loop (spec §4.8) and
// starts them; it does not block.
func (a *Application) StartBackgroundWork(ctx context.Context) error {
	a.Scheduler.AddTicker(ctx, 60*time.Second, scheduler.Job{
		Name: "alert_loop",
		Run:  a.AlertEngine.EvaluateAll,
	})
	a.Scheduler.AddTicker(ctx, 30*time.Second, scheduler.Job{
		Name: "purge_worker",
		Run:  a.PurgeWorker.Run,
	})
	a.Scheduler.AddTicker(ctx, 10*time.Minute, scheduler.SelectionCleanup(a.Store.Queue))
	a.Scheduler.AddTicker(ctx, 5*time.Minute, scheduler.Job{
		Name: "deployment_tick",
		Run:  a.Deployments.Tick,
	})

	go a.Ingestor.RunEventFlush(ctx, func(batch []heartbeat.Sample) {
		a.Log.WithField("batch_size", len(batch)).Debug("flushed heartbeat event batch")
	})

	if err := a.Scheduler.AddHourly(scheduler.ReconciliationJob(a.Reconciler)); err != nil {
		return err
	}
	if err := a.Scheduler.AddDaily("0 3 * * *", scheduler.PartitionMaintenanceJob(a.Partitions)); err != nil {
		return err
	}

	a.Scheduler.Start()
	return nil
}

// APIServerDeps adapts the Application into the apiserver package's
// dependency bundle.
func (a *Application) APIServerDeps() *apiserver.Deps {
	return &apiserver.Deps{
		Config:      a.Config,
		Store:       a.Store,
		Auth:        a.Auth,
		Artifacts:   a.Artifacts,
		Ingestor:    a.Ingestor,
		Dispatcher:  a.Dispatcher,
		AlertEngine: a.AlertEngine,
		Deployments: a.Deployments,
		Cache:       a.Cache,
		Log:         a.Log,
	}
}

func (a *Application) Close(ctx context.Context) {
	a.Scheduler.Stop(ctx)
	for _, fn := range a.cleanup {
		fn()
	}
	if err := a.Store.Close(); err != nil {
		a.Log.WithError(err).Warn("error closing database")
	}
}

type noopPushProvider struct{}

func (noopPushProvider) Send(ctx context.Context, fcmToken string, payload map[string]string) (string, int, error) {
	return "", 0, nil
}
