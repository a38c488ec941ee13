// Package main is a command-line client that drives a feedsync session against the API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"feedsync/internal/apiclient"
	"feedsync/internal/cache"
	"feedsync/internal/config"
	"feedsync/internal/featureflags"
	"feedsync/internal/models"
	"feedsync/internal/observability"
	"feedsync/internal/session"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  feedsync profile <id> [pages]   - Show a profile and its posts")
	fmt.Println("  feedsync follow <id>            - Follow a profile")
	fmt.Println("  feedsync unfollow <id>          - Unfollow a profile")
	fmt.Println("  feedsync toggle <id>            - Follow or unfollow a profile")
	fmt.Println("  feedsync popular [pages]        - List the most followed profiles")
	fmt.Println("  feedsync profiles               - List profiles")
	fmt.Println("  feedsync flags                  - Show the feature flags in effect")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	observability.Configure(cfg.Env, cfg.LogLevel)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "feedsync",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampler,
	})
	if err != nil {
		log.Fatalf("Failed to initialise tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	var pageCache *cache.PageCache
	if rdb := cache.Connect(cfg.RedisURL); rdb != nil {
		defer func() { _ = rdb.Close() }()
		pageCache = cache.NewPageCache(rdb, cfg.PageCacheTTL, cfg.SessionUsername)
	}

	s := session.New(session.Options{
		API: apiclient.New(apiclient.Options{
			BaseURL: cfg.APIBaseURL,
			Token:   cfg.APIToken,
			Timeout: cfg.RequestTimeout,
		}),
		Cache:    pageCache,
		Flags:    featureflags.NewManager(cfg.FeatureFlags),
		Username: cfg.SessionUsername,
	})
	defer s.Close()

	ctx := observability.EnsureCorrelationID(context.Background())
	if err := run(ctx, s, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, s *session.Session, command string, args []string) error {
	switch command {
	case "profile":
		if len(args) < 1 {
			return errors.New("usage: feedsync profile <id> [pages]")
		}
		if err := s.OpenProfile(ctx, models.ID(args[0])); err != nil {
			return err
		}
		if err := loadPages(ctx, s.Posts().LoadMore, pagesArg(args, 1)); err != nil {
			return err
		}
		printHeader(s)
		for _, p := range s.Posts().Items() {
			fmt.Printf("  #%s %-40s likes=%d comments=%d%s\n", p.ID, p.Title, p.LikesCount, p.CommentsCount, authorState(p))
		}
		if s.Posts().HasMore() {
			fmt.Println("  ...")
		}

	case "follow", "unfollow", "toggle":
		if len(args) < 1 {
			return fmt.Errorf("usage: feedsync %s <id>", command)
		}
		id := models.ID(args[0])
		if err := s.OpenProfile(ctx, id); err != nil {
			return err
		}
		var err error
		switch command {
		case "follow":
			_, err = s.Follow(ctx, id)
		case "unfollow":
			_, err = s.Unfollow(ctx, id)
		default:
			_, err = s.ToggleFollow(ctx, id)
		}
		if err != nil {
			return err
		}
		printHeader(s)

	case "popular":
		if err := s.LoadPopularProfiles(ctx); err != nil {
			return err
		}
		if err := loadPages(ctx, s.MorePopular, pagesArg(args, 0)); err != nil {
			return err
		}
		st, _ := s.State()
		printProfiles(st.PopularProfiles.Results)

	case "profiles":
		if err := s.BrowseProfiles(ctx); err != nil {
			return err
		}
		printProfiles(s.Profiles().Items())

	case "flags":
		flags := s.Flags()
		names := make([]string, 0, len(flags))
		for name := range flags {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%-20s %t\n", name, flags[name])
		}

	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
	return nil
}

// loadPages calls more up to n times, stopping quietly at the end of the collection.
func loadPages(ctx context.Context, more func(context.Context) error, n int) error {
	for i := 0; i < n; i++ {
		err := more(ctx)
		if errors.Is(err, models.ErrNoMoreData) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func pagesArg(args []string, i int) int {
	if len(args) <= i {
		return 0
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func printHeader(s *session.Session) {
	p, ok := s.CurrentProfile()
	if !ok {
		return
	}
	state := "not following"
	switch {
	case p.IsOwner:
		state = "you"
	case p.Following():
		state = "following"
	}
	fmt.Printf("%s (@%s) posts=%d followers=%d following=%d [%s]\n",
		p.Name, p.Owner, p.PostsCount, p.FollowersCount, p.FollowingCount, state)
}

func printProfiles(profiles []models.Profile) {
	for _, p := range profiles {
		mark := " "
		if p.Following() {
			mark = "*"
		}
		fmt.Printf("%s #%s @%-20s followers=%d\n", mark, p.ID, p.Owner, p.FollowersCount)
	}
}

func authorState(p models.Post) string {
	if p.AuthorFollowersCount == nil {
		return ""
	}
	return fmt.Sprintf(" author_followers=%d", *p.AuthorFollowersCount)
}
