package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"gatekeeper/internal/challenge"
	"gatekeeper/internal/collector"
	"gatekeeper/internal/geo"
	"gatekeeper/internal/platform/config"
	"gatekeeper/internal/platform/logger"
	"gatekeeper/internal/relay/client"
	"gatekeeper/internal/verification"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Play a full verification attempt",
	Long: `Play a verification attempt the way the verification page does:
fetch the site key, load the challenge, collect environment signals, confirm
with the relay and print every state as a JSON line.

Challenge tokens are supplied with --token since no challenge runtime is
available in a terminal. Each attempt consumes the next token in order.`,
	RunE: runAttempt,
}

var runOpts struct {
	link      string
	id        string
	guild     string
	guildName string
	tokens    []string
	userAgent string
	language  string
	timezone  string
	retries   int
	offline   bool
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.link, "link", "", "verification link; its query supplies id, guild and guild_name")
	f.StringVar(&runOpts.id, "id", "", "user id")
	f.StringVar(&runOpts.guild, "guild", "", "guild id")
	f.StringVar(&runOpts.guildName, "guild-name", "", "guild display name")
	f.StringArrayVar(&runOpts.tokens, "token", nil, "challenge token to submit; tokens are single-use, repeat the flag once per attempt")
	f.StringVar(&runOpts.userAgent, "user-agent", "gatekeeper-attempt/1.0", "reported user agent")
	f.StringVar(&runOpts.language, "language", "en-US", "reported language")
	f.StringVar(&runOpts.timezone, "timezone", time.Local.String(), "reported IANA timezone")
	f.IntVar(&runOpts.retries, "retries", 0, "retry this many times after an error (each retry consumes the next --token)")
	f.BoolVar(&runOpts.offline, "offline", false, "play the scripted success when the relay is unreachable")
}

func runAttempt(cmd *cobra.Command, _ []string) error {
	params, err := attemptParams()
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(os.Stderr, logLevel)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	relay := client.New(relayURL, client.WithBearer(bearer))
	providers, err := config.LoadProviders(providersFile)
	if err != nil {
		return err
	}
	discoverer, err := newDiscoverer(providers, false)
	if err != nil {
		return err
	}
	locator, err := geo.NewLocator(geo.LocatorConfig{
		Providers: providers.Geolocation,
		Logger:    log,
		Resolver:  breakerConfig("geolocation", providers.Breaker),
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	views := newViewQueue()
	closed := make(chan struct{})
	var closeOnce sync.Once

	m, err := verification.New(verification.Config{
		Params:          params,
		Signals:         signals(),
		OfflineFallback: runOpts.offline,
		Logger:          log,
		Observer:        views.push,
	}, verification.Deps{
		Config:    relay,
		Tokens:    challenge.NewUnit(challenge.NewQueueLoader(runOpts.tokens...), challenge.WithLogger(log)),
		Collector: collector.New(locator, collector.WithLogger(log)),
		IP:        discoverer,
		Confirmer: relay,
		Closer:    verification.CloserFunc(func() { closeOnce.Do(func() { close(closed) }) }),
	})
	if err != nil {
		return err
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer func() {
		m.Unmount()
		m.Wait()
	}()

	retries := runOpts.retries
	for {
		select {
		case <-views.ready:
			for _, v := range views.drain() {
				if err := enc.Encode(v); err != nil {
					return err
				}
				if v.State != verification.StateError {
					continue
				}
				if retries == 0 {
					return fmt.Errorf("verification failed: %s", v.Error)
				}
				retries--
				if err := m.Retry(); err != nil {
					return err
				}
			}
		case <-closed:
			for _, v := range views.drain() {
				if err := enc.Encode(v); err != nil {
					return err
				}
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func attemptParams() (verification.Params, error) {
	var p verification.Params
	if runOpts.link != "" {
		u, err := url.Parse(runOpts.link)
		if err != nil {
			return p, fmt.Errorf("parse link: %w", err)
		}
		p = verification.ParamsFromQuery(u.Query())
	}
	if runOpts.id != "" {
		p.ID = runOpts.id
	}
	if runOpts.guild != "" {
		p.Guild = runOpts.guild
	}
	if runOpts.guildName != "" {
		p.GuildName = runOpts.guildName
	}
	if p.ID == "" {
		return p, errors.New("an id is required (--id or --link)")
	}
	return p, nil
}

func signals() collector.Signals {
	_, offset := time.Now().Zone()
	return collector.Signals{
		UserAgent:           runOpts.userAgent,
		Language:            runOpts.language,
		Languages:           []string{runOpts.language},
		Timezone:            runOpts.timezone,
		TimezoneOffset:      -offset / 60,
		Platform:            runtime.GOOS,
		CookiesEnabled:      true,
		HardwareConcurrency: runtime.NumCPU(),
	}
}

// viewQueue buffers views without bound. push never blocks, so the machine's
// notify path cannot stall on a slow reader or on the reader calling Retry.
type viewQueue struct {
	mu      sync.Mutex
	pending []verification.View
	ready   chan struct{}
}

func newViewQueue() *viewQueue {
	return &viewQueue{ready: make(chan struct{}, 1)}
}

func (q *viewQueue) push(v verification.View) {
	q.mu.Lock()
	q.pending = append(q.pending, v)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *viewQueue) drain() []verification.View {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}
