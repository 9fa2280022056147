package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"lobbylink/config"
)

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Long: `Print the configuration after applying packaged defaults, lobby.yml
and LOBBY_* environment variables, in that order of precedence.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, errConfig := config.Load(cfgFile)
			if errConfig != nil {
				return errConfig
			}
			printSettings(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printSettings(w io.Writer, cfg config.Settings) {
	rows := []struct {
		key   string
		value any
	}{
		{"websocket_url", cfg.ServerURL},
		{"connection_timeout", cfg.ConnectionTimeout},
		{"position_broadcast_interval", cfg.PositionBroadcastInterval},
		{"max_retry_attempts", cfg.MaxRetryAttempts},
		{"reconnect_delay", cfg.ReconnectDelay},
		{"enable_debug_logs", cfg.DebugLoggingEnabled},
		{"auto_reconnect", cfg.AutoReconnect},
		{"player_id", cfg.PlayerID},
		{"position_dead_band", cfg.PositionDeadBand},
		{"log_file", cfg.LogFile},
		{"metrics_addr", cfg.MetricsAddr},
		{"tick_rate", cfg.TickRate},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%-28s %v\n", r.key, r.value)
	}
}
