package cmd

import (
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// AppContext carries the per-invocation state built by the root command.
type AppContext struct {
	Logger     *zap.SugaredLogger
	ZapLogger  *zap.Logger
	ReportsDir string
	ConfigFile string
}

var (
	appContextMu     sync.RWMutex
	globalAppContext *AppContext
)

func storeAppContext(cmd *cobra.Command, appCtx *AppContext) {
	appContextMu.Lock()
	defer appContextMu.Unlock()
	globalAppContext = appCtx
}

// getAppContext returns the stored context, or a no-op one for commands
// invoked without the root pre-run (tests).
func getAppContext(cmd *cobra.Command) *AppContext {
	appContextMu.RLock()
	defer appContextMu.RUnlock()
	if globalAppContext != nil {
		return globalAppContext
	}
	nop := zap.NewNop()
	return &AppContext{Logger: nop.Sugar(), ZapLogger: nop}
}
