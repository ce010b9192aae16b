package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"autofrotz/internal/config"
	"autofrotz/internal/hooks"
	"autofrotz/internal/journal"
	"autofrotz/internal/llm"
	"autofrotz/internal/orchestrator"
)

var (
	// Global flags
	configPath string
	verbose    bool

	logger *zap.Logger
	cfg    *config.Config
)

// Backends supply the Z-machine interpreter and the model clients. The core
// ships without either; an integration build registers its constructors here
// from an init function, the same way database/sql drivers register.
var (
	newInterpreter func(cfg *config.Config, gameFile string) (orchestrator.Interpreter, error)
	newClients     func(cfg *config.Config) (map[string]llm.Client, error)
)

var rootCmd = &cobra.Command{
	Use:   "autofrotz",
	Short: "AutoFrotz - autonomous text adventure player",
	Long: `AutoFrotz plays Z-machine text adventures by itself.

An LLM game agent decides each command while deterministic subsystems keep a
persistent map, item registry, and puzzle list, journal every turn to SQLite,
and take over entirely inside mazes (marker-drop mapping, no model involved).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		zc := zap.NewProductionConfig()
		if verbose || cfg.Logging.Level == "debug" {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var playCmd = &cobra.Command{
	Use:   "play [game-file]",
	Short: "Start a new game and play it to the end",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGame(args[0], false)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the most recent unfinished game",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGame("", true)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [game-id]",
	Short: "Show turn and model-usage statistics for a game",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStats,
}

var gamesCmd = &cobra.Command{
	Use:   "games",
	Short: "List all recorded game sessions",
	RunE:  runGames,
}

func runGame(gameFile string, resume bool) error {
	if newInterpreter == nil || newClients == nil {
		return fmt.Errorf("no interpreter or model backend registered in this build")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jrnl, err := journal.Open(cfg.Journal.Path, logger.Named("journal"))
	if err != nil {
		return err
	}
	defer jrnl.Close()

	if resume {
		id, file, ok, err := jrnl.GetActiveGame()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no unfinished game to resume")
		}
		logger.Info("resuming", zap.Int64("game_id", id), zap.String("file", file))
		gameFile = file
	}
	cfg.Game.File = gameFile

	clients, err := newClients(cfg)
	if err != nil {
		return err
	}
	interp, err := newInterpreter(cfg, gameFile)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(cfg, jrnl, interp, llm.NewRegistry(clients),
		[]hooks.Hook{hooks.LogHook{Logger: logger.Named("game")}}, logger)
	if err != nil {
		return err
	}

	if resume {
		err = orch.Resume(ctx)
	} else {
		err = orch.Start(ctx)
	}
	if err != nil {
		return err
	}
	return orch.Run(ctx)
}

func runGames(cmd *cobra.Command, args []string) error {
	jrnl, err := journal.Open(cfg.Journal.Path, logger.Named("journal"))
	if err != nil {
		return err
	}
	defer jrnl.Close()

	games, err := jrnl.GetAllGames()
	if err != nil {
		return err
	}
	if len(games) == 0 {
		fmt.Println("No games recorded.")
		return nil
	}
	fmt.Printf("%-6s %-30s %-10s %-7s %s\n", "ID", "FILE", "STATUS", "TURNS", "STARTED")
	for _, g := range games {
		fmt.Printf("%-6d %-30s %-10s %-7d %s\n",
			g.GameID, g.GameFile, g.Status, g.TotalTurns, g.StartTime)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	jrnl, err := journal.Open(cfg.Journal.Path, logger.Named("journal"))
	if err != nil {
		return err
	}
	defer jrnl.Close()

	var game *journal.GameSession
	if len(args) == 1 {
		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid game id %q", args[0])
		}
		game, err = jrnl.GetGame(id)
		if err != nil {
			return err
		}
	} else {
		games, err := jrnl.GetAllGames()
		if err != nil {
			return err
		}
		if len(games) > 0 {
			game = &games[0]
		}
	}
	if game == nil {
		return fmt.Errorf("no such game")
	}

	fmt.Printf("Game %d: %s\n", game.GameID, game.GameFile)
	fmt.Printf("  Status: %s, %d turns, started %s\n", game.Status, game.TotalTurns, game.StartTime)

	rooms, err := jrnl.GetRooms(game.GameID)
	if err != nil {
		return err
	}
	items, err := jrnl.GetItems(game.GameID)
	if err != nil {
		return err
	}
	puzzles, err := jrnl.GetPuzzles(game.GameID)
	if err != nil {
		return err
	}
	solved := 0
	for _, p := range puzzles {
		if p.SolvedTurn > 0 {
			solved++
		}
	}
	mazes, err := jrnl.GetMazeGroups(game.GameID)
	if err != nil {
		return err
	}
	fmt.Printf("  World: %d rooms, %d items, %d/%d puzzles solved, %d mazes\n",
		len(rooms), len(items), solved, len(puzzles), len(mazes))

	usage, err := jrnl.GetUsageSummary(game.GameID)
	if err != nil {
		return err
	}
	if len(usage) > 0 {
		fmt.Printf("\n  %-14s %-7s %-10s %-10s %-10s %s\n",
			"AGENT", "CALLS", "IN TOK", "OUT TOK", "COST", "AVG MS")
		for _, u := range usage {
			fmt.Printf("  %-14s %-7d %-10d %-10d $%-9.4f %.0f\n",
				u.AgentName, u.Calls, u.InputTokens, u.OutputTokens, u.CostEstimate, u.AvgLatencyMS)
		}
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "autofrotz.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(playCmd, resumeCmd, statsCmd, gamesCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
