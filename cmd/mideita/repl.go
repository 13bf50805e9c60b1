package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/config"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/engine"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/ideas"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/localcache"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/phrases"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const replHelp = `commands:
  generate | regenerate | save | discard | ok
  list | community | recent | close
  delete <id> | image <id> <file>
  login <token> | logout | clear | status | help | quit`

func newReplCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Drive the idea engine of one device interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runRepl(ctx context.Context, in io.Reader, out io.Writer) error {
	appConfig, err := config.Load(viper.GetViper(), config.ProfileDevice)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, "console")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := localcache.Open(appConfig.Local.Path)
	if err != nil {
		return err
	}
	defer cache.Close() //nolint:errcheck

	broadcaster := identity.NewBroadcaster()
	var provider *identity.SessionProvider
	if strings.TrimSpace(appConfig.Session.SigningSecret) != "" {
		validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
			SigningSecret: []byte(appConfig.Session.SigningSecret),
			Issuer:        appConfig.Session.Issuer,
			CookieName:    appConfig.Session.CookieName,
		})
		if err != nil {
			return err
		}
		provider, err = identity.NewSessionProvider(validator, broadcaster, logger)
		if err != nil {
			return err
		}
	}

	store, closeStore, err := openDeviceStore(signalCtx, appConfig, provider, logger)
	if err != nil {
		return err
	}
	defer closeStore() //nolint:errcheck

	var uploader engine.AssetUploader = assets.NewMemoryHost(appConfig.Assets.Tag)
	if strings.TrimSpace(appConfig.Assets.Bucket) != "" {
		host, err := openAssetHost(signalCtx, appConfig, logger)
		if err != nil {
			return err
		}
		uploader = host
	}

	seed := uint64(time.Now().UnixNano())
	generator, err := phrases.NewGenerator(phrases.DefaultVocabulary(), rand.NewPCG(seed, seed>>1|1))
	if err != nil {
		return err
	}

	ideaEngine, err := engine.New(engine.Config{
		Generator:      generator,
		Cache:          cache,
		Mirror:         cache.Namespace(localcache.KeyMirror),
		Store:          store,
		Assets:         uploader,
		Quota:          quotaPolicy(appConfig),
		MaxSavedIdeas:  appConfig.Quota.MaxSavedIdeas,
		CommunityLimit: appConfig.Quota.CommunityLimit,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	if err := ideaEngine.Start(signalCtx); err != nil {
		fmt.Fprintf(out, "starting offline: %v\n", err)
	}

	updates, unsubscribe := broadcaster.Subscribe(context.Background())
	defer unsubscribe()
	go func() {
		if err := ideaEngine.Watch(signalCtx, updates); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("identity watch stopped", zap.Error(err))
		}
	}()

	session := &replSession{
		engine: ideaEngine,
		limit:  quotaPolicy(appConfig).Limit(),
		out:    out,
	}
	if provider != nil {
		session.provider = provider
	}
	fmt.Fprintln(out, replHelp)
	return session.run(signalCtx, in)
}

func openDeviceStore(ctx context.Context, appConfig config.AppConfig, provider *identity.SessionProvider, logger *zap.Logger) (engine.Store, func() error, error) {
	if strings.TrimSpace(appConfig.APIURL) == "" {
		handle, err := openStore(ctx, appConfig, logger)
		if err != nil {
			return nil, nil, err
		}
		return handle.store, handle.close, nil
	}
	token := func() string { return "" }
	if provider != nil {
		token = provider.Token
	}
	store, err := ideas.NewHTTPStore(ideas.HTTPStoreConfig{
		BaseURL: appConfig.APIURL,
		Token:   token,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, func() error { return nil }, nil
}

// replSession maps typed lines to engine commands.
type replSession struct {
	engine   *engine.Engine
	provider identity.Provider
	limit    int
	out      io.Writer
	readFile func(name string) ([]byte, error)
}

func (s *replSession) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(s.out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if quit := s.execute(ctx, scanner.Text()); quit {
			return nil
		}
		fmt.Fprint(s.out, "> ")
	}
	return scanner.Err()
}

// execute runs one line and reports whether the session should end.
func (s *replSession) execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	command, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch command {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(s.out, replHelp)
	case "generate":
		var text string
		if text, err = s.engine.Generate(ctx); err == nil {
			fmt.Fprintf(s.out, "idea: %s\n", text)
		}
	case "regenerate":
		var text string
		if text, err = s.engine.Regenerate(ctx); err == nil {
			fmt.Fprintf(s.out, "idea: %s\n", text)
		}
	case "save":
		var saved ideas.Idea
		if saved, err = s.engine.Save(ctx); err == nil {
			fmt.Fprintf(s.out, "saved %s\n", saved.ID)
		}
	case "discard":
		err = s.engine.Discard(ctx)
	case "ok":
		err = s.engine.Acknowledge(ctx)
	case "list":
		if err = s.engine.ViewOwn(ctx); err == nil {
			s.printIdeas(s.engine.Ideas())
		}
	case "recent":
		s.printIdeas(s.engine.RecentIdeas())
	case "community":
		if err = s.engine.ViewCommunity(ctx); err == nil {
			s.printIdeas(s.engine.CommunityIdeas())
		}
	case "close":
		s.engine.CloseView()
	case "delete":
		if len(args) != 1 {
			fmt.Fprintln(s.out, "usage: delete <id>")
			return false
		}
		err = s.engine.Delete(ctx, args[0])
	case "image":
		if len(args) != 2 {
			fmt.Fprintln(s.out, "usage: image <id> <file>")
			return false
		}
		err = s.attachImage(ctx, args[0], args[1])
	case "login":
		if len(args) != 1 {
			fmt.Fprintln(s.out, "usage: login <token>")
			return false
		}
		if s.provider == nil {
			fmt.Fprintln(s.out, "login unavailable: session.signing_secret is not configured")
			return false
		}
		err = s.provider.SignIn(ctx, args[0])
	case "logout":
		if s.provider != nil {
			err = s.provider.SignOut(ctx)
		}
	case "clear":
		err = s.engine.ClearLocal(ctx)
	case "status":
		s.printStatus()
	default:
		fmt.Fprintf(s.out, "unknown command %q, type help\n", command)
		return false
	}

	if err != nil {
		if kind := engine.KindOf(err); kind != "" {
			fmt.Fprintf(s.out, "error (%s): %v\n", kind, err)
		} else {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
	return false
}

func (s *replSession) attachImage(ctx context.Context, ideaID, path string) error {
	readFile := s.readFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	data, err := readFile(path)
	if err != nil {
		return err
	}
	updated, err := s.engine.AttachImage(ctx, ideaID, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "image %s\n", updated.ImageURL)
	return nil
}

func (s *replSession) printIdeas(list []ideas.Idea) {
	if len(list) == 0 {
		fmt.Fprintln(s.out, "(no ideas)")
		return
	}
	for _, idea := range list {
		line := fmt.Sprintf("%s  %s", idea.ID, idea.Text)
		if idea.OwnerDisplayName != "" {
			line += "  by " + idea.OwnerDisplayName
		}
		if idea.ImageURL != "" {
			line += "  [" + idea.ImageURL + "]"
		}
		fmt.Fprintln(s.out, line)
	}
}

func (s *replSession) printStatus() {
	current := s.engine.Identity()
	who := "guest"
	if current.Present {
		who = current.ID
	}
	quotaState := s.engine.Quota()
	fmt.Fprintf(s.out, "identity: %s\nstate: %s\nview: %s\nsaved: %d\n",
		who, s.engine.State(), s.engine.Browsing(), len(s.engine.Ideas()))
	if current.Present {
		fmt.Fprintf(s.out, "today: %d/%d\n", quotaState.DailyCount, s.limit)
	} else if remaining := s.engine.CooldownRemaining(); remaining > 0 {
		fmt.Fprintf(s.out, "cooldown: %s\n", remaining.Round(time.Second))
	}
	if s.engine.Degraded() {
		fmt.Fprintln(s.out, "showing local copies, the store is unreachable")
	}
}
