package cmd

import (
	"context"
	"errors"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lobbylink/config"
	"lobbylink/lobby"
	"lobbylink/protocol"
	"lobbylink/transport"
)

type runOptions struct {
	serverURL   string
	playerID    string
	metricsAddr string
	logFile     string
	orbitRadius float64
	orbitSpeed  float64
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the lobby and stream position updates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, errConfig := config.Load(cfgFile)
			if errConfig != nil {
				return errConfig
			}
			opts.apply(cmd, &cfg)

			if errLog := lobby.InitLogger(cfg.LogFile, cfg.DebugLoggingEnabled); errLog != nil {
				return errLog
			}
			defer lobby.SyncLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runClient(ctx, cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.serverURL, "url", "", "lobby websocket url (overrides websocket_url)")
	cmd.Flags().StringVar(&opts.playerID, "player-id", "", "local player id (overrides player_id)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "admin listen address, e.g. :9090 (overrides metrics_addr)")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "log file path (overrides log_file)")
	cmd.Flags().Float64Var(&opts.orbitRadius, "orbit-radius", 0, "move the local player on a circle of this radius; 0 stands still")
	cmd.Flags().Float64Var(&opts.orbitSpeed, "orbit-speed", 1, "orbit angular speed in radians per second")

	return cmd
}

// apply 只覆盖命令行上显式给出的参数
func (o runOptions) apply(cmd *cobra.Command, cfg *config.Settings) {
	if cmd.Flags().Changed("url") {
		cfg.ServerURL = o.serverURL
	}
	if cmd.Flags().Changed("player-id") {
		cfg.PlayerID = o.playerID
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFile = o.logFile
	}
}

func runClient(ctx context.Context, cfg config.Settings, opts runOptions) error {
	client := lobby.NewClient(cfg, transport.NewSession(lobby.Log), "", lobby.Log)
	defer client.Close()

	client.Subscribe(logEvent)

	if errConnect := client.Connect(); errConnect != nil {
		// 自动重连可能已安排，继续进入帧循环
		lobby.Log.Warnf("initial connect: %v", errConnect)
	}

	walker := newOrbit(opts.orbitRadius, opts.orbitSpeed)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lobby.Log.Infof("lobby client %s running at %d ticks/s", client.LocalPlayerID(), cfg.TickRate)
		client.Run(gctx, cfg.TickRate, func(dt time.Duration) {
			if walker.radius > 0 {
				client.SendPositionUpdate(walker.step(dt))
			}
		})
		return nil
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           lobby.NewAdminMux(client),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			lobby.Log.Infof("admin listening on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	lobby.Log.Info("Shutting down...")
	return err
}

// orbit 演示用的本地移动：绕原点匀速转圈
type orbit struct {
	radius float64
	speed  float64
	angle  float64
}

func newOrbit(radius, speed float64) *orbit {
	return &orbit{radius: radius, speed: speed}
}

func (o *orbit) step(dt time.Duration) protocol.Vec2 {
	o.angle = math.Mod(o.angle+o.speed*dt.Seconds(), 2*math.Pi)
	return protocol.Vec2{
		X: o.radius * math.Cos(o.angle),
		Y: o.radius * math.Sin(o.angle),
	}
}

func logEvent(ev lobby.Event) {
	switch e := ev.(type) {
	case lobby.ConnectedEvent:
		lobby.Log.Info("connected to lobby")
	case lobby.DisconnectedEvent:
		lobby.Log.Infow("disconnected from lobby", "err", e.Err)
	case lobby.ConnectionFailedEvent:
		lobby.Log.Warnw("lobby connection failed", "reason", e.Reason, "err", e.Err)
	case lobby.LobbyStateReceivedEvent:
		lobby.Log.Infow("lobby state received", "players", len(e.Players))
	case lobby.PlayerJoinedEvent:
		lobby.Log.Infow("player joined", "id", e.Player.ID, "x", e.Player.Pos.X, "y", e.Player.Pos.Y)
	case lobby.PlayerLeftEvent:
		lobby.Log.Infow("player left", "id", e.ID)
	case lobby.PlayerPositionUpdatedEvent:
		lobby.Log.Debugw("player moved", "id", e.ID, "x", e.Pos.X, "y", e.Pos.Y)
	case lobby.StatusChangedEvent:
		lobby.Log.Debugw("status", "status", e.Status)
	}
}
