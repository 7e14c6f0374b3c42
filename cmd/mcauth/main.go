// mcauth - Discord to Minecraft account linking and whitelist authority
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ernie/mcauth/internal/api"
	"github.com/ernie/mcauth/internal/auth"
	"github.com/ernie/mcauth/internal/bot"
	"github.com/ernie/mcauth/internal/config"
	"github.com/ernie/mcauth/internal/domain"
	"github.com/ernie/mcauth/internal/events"
	"github.com/ernie/mcauth/internal/linking"
	"github.com/ernie/mcauth/internal/logging"
	"github.com/ernie/mcauth/internal/mojang"
	"github.com/ernie/mcauth/internal/storage"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
)

var version = "dev"

// cleanupInterval is how often expired pending codes are purged
const cleanupInterval = 15 * time.Minute

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	case "links":
		cmdLinks(os.Args[2:])
	case "alts":
		cmdAlts(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "backup":
		cmdBackup(os.Args[2:])
	case "version":
		fmt.Printf("mcauth %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: mcauth <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init [--guild ID] [--discord-token T]  Write a default config (prompts for the bot token)")
	fmt.Println("  serve                                  Start the Discord bot and the webserver")
	fmt.Println("  links                                  List linked accounts")
	fmt.Println("  alts [owner]                           List alt accounts, optionally of one owner")
	fmt.Println("  token [--scope player|admin] [--ttl D] Print a scoped bearer token")
	fmt.Println("  backup --out <file>                    Write a zstd-compressed database snapshot")
	fmt.Println("  version                                Show version")
	fmt.Println("  help                                   Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Printf("  --config <path>    Path to configuration file (default $CONFIG_PATH or %s)\n", config.DefaultPath)
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  mcauth init --guild 123456789012345678")
	fmt.Println("  mcauth serve --config ./config/config.yaml")
	fmt.Println("  mcauth token --scope player --ttl 720h")
	fmt.Println("  mcauth backup --out accounts.db.zst")
}

func mustLoadConfig(configPath string) *config.Config {
	path := config.Path(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config from %s: %v\n", path, err)
		fmt.Fprintln(os.Stderr, "Run 'mcauth init' to create one.")
		os.Exit(1)
	}
	return cfg
}

func mustOpenStore(cfg *config.Config) *storage.Store {
	store, err := storage.New(cfg.Database.Path, storage.WithPendingTTL(cfg.Database.PendingTTL))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

// cmdInit writes a default configuration file
func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	guildID := fs.String("guild", "", "Discord guild (server) id")
	discordToken := fs.String("discord-token", "", "Discord bot token")
	fs.Parse(args)

	path := config.Path(*configPath)
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Config %s already exists, not overwriting\n", path)
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.Discord.GuildID = *guildID
	cfg.Discord.Token = *discordToken

	if cfg.Discord.Token == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Discord bot token: ")
		token, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read token: %v\n", err)
			os.Exit(1)
		}
		cfg.Discord.Token = strings.TrimSpace(string(token))
	}

	if err := config.Write(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %s\n", path)
	fmt.Printf("Webserver token: %s\n", cfg.Webserver.Token)
	if cfg.Discord.GuildID == "" {
		fmt.Println("Set discord.guild_id, discord.roles and discord.admin_roles before running 'mcauth serve'.")
	}
}

// cmdServe runs the Discord bot and the webserver until interrupted
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg := mustLoadConfig(*configPath)

	logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if cfg.Discord.Token == "" || cfg.Discord.GuildID == "" {
		log.Fatal("discord.token and discord.guild_id must be set")
	}

	log.WithField("version", version).Info("mcauth starting")

	store, err := storage.New(cfg.Database.Path, storage.WithPendingTTL(cfg.Database.PendingTTL))
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer store.Close()
	log.WithField("path", cfg.Database.Path).Info("Database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewWebSocketHub()
	go hub.Run(ctx)
	publishers := events.Fanout{hub}

	if cfg.Events.NATSURL != "" {
		natsPub, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to NATS")
		}
		defer natsPub.Close()
		publishers = append(publishers, natsPub)
		log.WithFields(log.Fields{"url": cfg.Events.NATSURL, "subject": cfg.Events.Subject}).Info("Publishing events to NATS")
	}

	discord, err := bot.NewDiscord(cfg.Discord.Token, cfg.Discord.GuildID)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Discord session")
	}

	players := mojang.New(mojang.Options{
		APIURL:      cfg.Mojang.APIURL,
		SessionURL:  cfg.Mojang.SessionURL,
		Timeout:     cfg.Mojang.Timeout,
		MaxAttempts: cfg.Mojang.MaxAttempts,
	})

	engine := linking.NewEngine(store, discord, players, linking.Policy{
		WhitelistRoles: domain.NewRoleSet(cfg.Discord.Roles...),
		AdminRoles:     domain.NewRoleSet(cfg.Discord.AdminRoles...),
	}, linking.WithPublisher(publishers))

	if err := discord.Start(bot.NewHandler(engine, cfg.Discord.Prefix, discord)); err != nil {
		log.WithError(err).Fatal("Failed to start Discord bot")
	}
	defer discord.Close()

	if cfg.Database.PendingTTL > 0 {
		go runCleanup(ctx, store)
	}

	router := api.NewRouter(engine, auth.NewService(cfg.Webserver.Token), hub)
	addr := cfg.Webserver.Addr()
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("Webserver listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-serverErr:
		log.WithError(err).Fatal("Webserver error")
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.WithError(err).Warn("Webserver shutdown error")
	}

	cancel()
	log.Info("Shutdown complete")
}

// runCleanup purges expired pending codes until ctx is done
func runCleanup(ctx context.Context, store *storage.Store) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.CleanupExpiredPending(ctx)
			if err != nil {
				log.WithError(err).Warn("Cleaning up expired auth codes")
				continue
			}
			if n > 0 {
				log.WithField("removed", n).Info("Expired auth codes removed")
			}
		}
	}
}

// cmdLinks prints every committed link
func cmdLinks(args []string) {
	fs := flag.NewFlagSet("links", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	store := mustOpenStore(mustLoadConfig(*configPath))
	defer store.Close()

	links, err := store.ListLinks(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DISCORD ID\tMINECRAFT UUID\tLINKED")
	fmt.Fprintln(w, "----------\t--------------\t------")
	for _, l := range links {
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.ChatID, l.GameID, l.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
	fmt.Printf("\n%d linked accounts\n", len(links))
}

// cmdAlts prints alt accounts
func cmdAlts(args []string) {
	fs := flag.NewFlagSet("alts", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	owner := ""
	if fs.NArg() > 0 {
		owner = fs.Arg(0)
	}

	store := mustOpenStore(mustLoadConfig(*configPath))
	defer store.Close()

	alts, err := store.ListAlts(context.Background(), owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMINECRAFT UUID\tOWNER")
	fmt.Fprintln(w, "----\t--------------\t-----")
	for _, a := range alts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.Name, a.GameID, a.Owner)
	}
	w.Flush()
}

// cmdToken prints a bearer token signed with the webserver secret
func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	scopeName := fs.String("scope", string(auth.ScopePlayer), "token scope: player or admin")
	ttl := fs.Duration("ttl", 0, "token lifetime (0 never expires)")
	subject := fs.String("subject", "", "who the token is for")
	fs.Parse(args)

	scope, err := auth.ParseScope(*scopeName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg := mustLoadConfig(*configPath)
	token, err := auth.NewService(cfg.Webserver.Token).GenerateToken(scope, *subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

// cmdBackup writes a compressed database snapshot
func cmdBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	out := fs.StringP("out", "o", "", "output file")
	fs.Parse(args)

	if *out == "" {
		fmt.Fprintln(os.Stderr, "Usage: mcauth backup --out <file>")
		os.Exit(1)
	}

	store := mustOpenStore(mustLoadConfig(*configPath))
	defer store.Close()

	f, err := os.OpenFile(*out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := store.Backup(context.Background(), f); err != nil {
		f.Close()
		os.Remove(*out)
		fmt.Fprintf(os.Stderr, "Backup failed: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backup written to %s\n", *out)
}
