// Package wire provides dependency injection for the warden application.
// It creates singleton services with lazy initialization.
package wire

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/example/warden/internal/adapters/notify"
	"github.com/example/warden/internal/adapters/sqlite"
	"github.com/example/warden/internal/app"
	"github.com/example/warden/internal/config"
	"github.com/example/warden/internal/db"
	"github.com/example/warden/internal/events"
	"github.com/example/warden/internal/policy"
	"github.com/example/warden/internal/ports/primary"
)

var (
	cfg             *config.Config
	bus             *events.Bus
	gateService     primary.ApprovalGateService
	budgetService   primary.BudgetService
	stopService     primary.EmergencyStopService
	recoveryService primary.RecoveryService
	projectService  primary.ProjectService
	executorHooks   primary.ExecutorHooks
	sweeper         *app.Sweeper
	once            sync.Once
)

// Config returns the loaded configuration.
func Config() *config.Config {
	once.Do(initServices)
	return cfg
}

// Bus returns the in-process event bus.
func Bus() *events.Bus {
	once.Do(initServices)
	return bus
}

// ApprovalGateService returns the singleton ApprovalGateService instance.
func ApprovalGateService() primary.ApprovalGateService {
	once.Do(initServices)
	return gateService
}

// BudgetService returns the singleton BudgetService instance.
func BudgetService() primary.BudgetService {
	once.Do(initServices)
	return budgetService
}

// EmergencyStopService returns the singleton EmergencyStopService instance.
func EmergencyStopService() primary.EmergencyStopService {
	once.Do(initServices)
	return stopService
}

// RecoveryService returns the singleton RecoveryService instance.
func RecoveryService() primary.RecoveryService {
	once.Do(initServices)
	return recoveryService
}

// ProjectService returns the singleton ProjectService instance.
func ProjectService() primary.ProjectService {
	once.Do(initServices)
	return projectService
}

// ExecutorHooks returns the singleton ExecutorHooks instance.
func ExecutorHooks() primary.ExecutorHooks {
	once.Do(initServices)
	return executorHooks
}

// Sweeper returns the background maintenance loop.
func Sweeper() *app.Sweeper {
	once.Do(initServices)
	return sweeper
}

// initServices initializes all services and their dependencies.
// This is called once via sync.Once.
func initServices() {
	database, err := db.GetDB()
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to resolve working directory: %v", err)
	}

	// Missing config falls back to defaults; `warden init` writes one.
	cfg, err = config.LoadConfig(cwd)
	if err != nil {
		cfg = config.Default()
	} else {
		cfg.ApplyDefaults()
	}

	riskCfg, err := policy.Load(cwd)
	if err != nil {
		log.Fatalf("failed to load risk policy: %v", err)
	}

	// Audit writer and repository adapters (secondary ports).
	logWriter := sqlite.NewLogWriterAdapter(database)
	approvalRepo := sqlite.NewApprovalRepository(database, logWriter)
	budgetRepo := sqlite.NewBudgetRepository(database, logWriter)
	stopRepo := sqlite.NewEmergencyStopRepository(database, logWriter)
	recoveryRepo := sqlite.NewRecoveryRepository(database, logWriter)
	projectRepo := sqlite.NewProjectRepository(database, logWriter)

	// Notification fan-out: console always, JSONL feed next to the
	// database, and the in-process bus for the daemon.
	bus = events.NewBus(64)
	notifier := buildNotifier(bus)

	waiters := app.NewWaiterRegistry()

	gateService = app.NewApprovalGateService(approvalRepo, stopRepo, projectRepo, notifier, waiters, riskCfg, cfg)
	budgetService = app.NewBudgetService(budgetRepo, approvalRepo, notifier, cfg)
	stopService = app.NewEmergencyStopService(stopRepo, approvalRepo, projectRepo, notifier, logWriter, waiters, cfg)
	recoveryService = app.NewRecoveryService(recoveryRepo, stopRepo, approvalRepo, budgetRepo, projectRepo, notifier, logWriter)
	projectService = app.NewProjectService(projectRepo)
	executorHooks = app.NewExecutorService(gateService, budgetService, stopService, riskCfg)
	sweeper = app.NewSweeper(gateService, budgetService, cfg.SweepInterval(), os.Stderr)
}

// buildNotifier assembles the outbound channel fan-out. The JSONL feed is
// best effort: a failure to open it degrades to console plus bus.
func buildNotifier(bus *events.Bus) *notify.Fanout {
	console := notify.NewConsoleNotifier()
	busNotifier := notify.NewBusNotifier(bus)

	home, err := os.UserHomeDir()
	if err == nil {
		jsonl, jerr := notify.NewJSONLNotifier(filepath.Join(home, ".warden", "notifications.jsonl"))
		if jerr == nil {
			return notify.NewFanout(console, jsonl, busNotifier)
		}
	}
	return notify.NewFanout(console, busNotifier)
}
