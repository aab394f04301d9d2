package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/skip2/go-qrcode"
	"github.com/urfave/cli/v3"

	"github.com/velskoi/spotsync/config"
	"github.com/velskoi/spotsync/constants"
	"github.com/velskoi/spotsync/iterutil"
	"github.com/velskoi/spotsync/log"
	"github.com/velskoi/spotsync/spotify"
	"github.com/velskoi/spotsync/spotify/crawl"
	"github.com/velskoi/spotsync/spotify/types"
)

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "spotsync",
		Version: constants.Version,
		Metadata: map[string]any{
			"compiled_at": constants.CompileTime,
		},
		Suggest:                    true,
		Usage:                      "Spotify library synchronizer",
		EnableShellCompletion:      true,
		ShellCompletionCommandName: "shell-completion",
		AllowExtFlags:              false,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Value:    "config.yaml",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Authorize against Spotify",
				Action: login,
			},
			{
				Name:   "logout",
				Usage:  "Forget stored Spotify credentials",
				Action: logout,
			},
			{
				Name:      "sync",
				Usage:     "Sync a library collection to the local store",
				ArgsUsage: "artists|albums|songs",
				Action:    sync,
			},
			{
				Name:      "search",
				Usage:     "Search the Spotify catalog",
				ArgsUsage: "artists|albums|songs <text>",
				Action:    search,
			},
			{
				Name:  "favorite",
				Usage: "Favorites commands",
				Commands: []*cli.Command{
					//nolint:exhaustruct
					{
						Name:      "add",
						Usage:     "Favorite items by id",
						ArgsUsage: "artists|albums|songs <id>...",
						Action:    favoriteAdd,
					},
					{
						Name:      "remove",
						Usage:     "Unfavorite items by id",
						ArgsUsage: "artists|albums|songs <id>...",
						Action:    favoriteRemove,
					},
				},
			},
			{
				Name:      "list",
				Usage:     "List a synced collection from the local store",
				ArgsUsage: "artists|albums|songs",
				Action:    list,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

func setup(ctx context.Context, cmd *cli.Command) (context.Context, context.CancelFunc, *spotify.Service, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)

	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			stop()

			return nil, nil, nil, fmt.Errorf("load .env file: %v", err)
		}
		logger.Info().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.FromFile(cmd.String("config"))
	if nil != err {
		stop()

		return nil, nil, nil, fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(conf.Log)

	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	svc, err := spotify.New(logger, conf)
	if nil != err {
		stop()

		return nil, nil, nil, fmt.Errorf("create spotify service: %v", err)
	}

	return ctx, stop, svc, nil
}

func categoryArg(cmd *cli.Command) (types.FavoriteCategory, error) {
	switch arg := cmd.Args().First(); arg {
	case "artists":
		return types.FavoriteArtists, nil
	case "albums":
		return types.FavoriteAlbums, nil
	case "songs":
		return types.FavoriteSongs, nil
	default:
		return 0, fmt.Errorf("unknown collection %q, expected artists, albums, or songs", arg)
	}
}

// progressCallbacks renders crawl progress on stderr when it is a terminal,
// and stays quiet otherwise.
func progressCallbacks() crawl.Callbacks {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return crawl.Callbacks{Status: nil, ProgressMax: nil, Progress: nil}
	}

	var max int

	return crawl.Callbacks{
		Status: func(status string) {
			fmt.Fprint(os.Stderr, text.EraseLine.Sprint())
			fmt.Fprintf(os.Stderr, "\r%s\n", status)
		},
		ProgressMax: func(m int) {
			max = m
		},
		Progress: func(current int) {
			fmt.Fprint(os.Stderr, text.EraseLine.Sprint())
			fmt.Fprintf(os.Stderr, "\r%d/%d", current, max)
		},
	}
}

func login(ctx context.Context, cmd *cli.Command) (err error) {
	ctx, stop, svc, err := setup(ctx, cmd)
	if nil != err {
		return err
	}
	defer stop()
	defer func() {
		if closeErr := svc.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close service: %v", closeErr))
		}
	}()

	logger := log.NewDefault()

	if svc.Auth().Authenticated() {
		logger.Info().Msg("Already logged in")

		return nil
	}

	link, creds, err := svc.Auth().InitiateLoginFlow(ctx)
	if nil != err {
		return fmt.Errorf("initiate login flow: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Open the following link in your browser to authorize:\n\n%s\n\n", link.URL)

	var lines int
	if isatty.IsTerminal(os.Stdout.Fd()) {
		qr, qrErr := qrcode.New(link.URL, qrcode.Medium)
		if nil != qrErr {
			logger.Warn().Msgf("Failed to render login QR code: %v", qrErr)
		} else {
			const noInverseColor = false
			code := qr.ToSmallString(noInverseColor)
			lines = strings.Count(code, "\n")
			fmt.Fprint(os.Stdout, code)
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-creds:
		if lines > 0 {
			var out strings.Builder
			out.WriteString(text.CursorUp.Sprintn(lines))
			for range lines {
				out.WriteString(text.EraseLine.Sprint())
				out.WriteString(text.CursorDown.Sprint())
			}
			fmt.Fprint(os.Stdout, out.String())
		}

		if resErr := res.Err(); nil != resErr {
			return fmt.Errorf("login failed: %w", resErr)
		}

		logger.Info().Time("expires_at", res.Unwrap().ExpiresAt()).Msg("Login successful!")

		return nil
	}
}

func logout(ctx context.Context, cmd *cli.Command) (err error) {
	_, stop, svc, err := setup(ctx, cmd)
	if nil != err {
		return err
	}
	defer stop()
	defer func() {
		if closeErr := svc.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close service: %v", closeErr))
		}
	}()

	logger := log.NewDefault()

	if !svc.Auth().Authenticated() {
		logger.Info().Msg("Not logged in")

		return nil
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		confirmed := false
		prompt := &survey.Confirm{ //nolint:exhaustruct
			Message: "Forget stored Spotify credentials?",
		}
		if err := survey.AskOne(prompt, &confirmed); nil != err {
			return fmt.Errorf("ask for logout confirmation: %v", err)
		}

		if !confirmed {
			return nil
		}
	}

	svc.Auth().Deauthenticate()
	logger.Info().Msg("Logged out successfully")

	return nil
}

func sync(ctx context.Context, cmd *cli.Command) (err error) {
	ctx, stop, svc, err := setup(ctx, cmd)
	if nil != err {
		return err
	}
	defer stop()
	defer func() {
		if closeErr := svc.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close service: %v", closeErr))
		}
	}()

	logger := log.NewDefault()

	category, err := categoryArg(cmd)
	if nil != err {
		return err
	}

	cb := progressCallbacks()

	var res *crawl.Result
	switch category {
	case types.FavoriteArtists:
		res, err = svc.SyncArtists(ctx, cb)
	case types.FavoriteAlbums:
		res, err = svc.SyncAlbums(ctx, cb)
	case types.FavoriteSongs:
		res, err = svc.SyncSongs(ctx, cb)
	}
	if nil != err {
		if errors.Is(err, spotify.ErrNotAuthenticated) {
			logger.Error().Msg("Not logged in. Run the login command first.")

			return exitCodeError(2)
		}

		return fmt.Errorf("sync %s: %w", category, err)
	}

	if summary := res.Summary(false); summary != "" {
		logger.Warn().Msg(summary)
	}
	logger.Info().Int("tracks", len(res.Tracks)).Msgf("Synced %s", category)

	return nil
}

func search(ctx context.Context, cmd *cli.Command) (err error) {
	ctx, stop, svc, err := setup(ctx, cmd)
	if nil != err {
		return err
	}
	defer stop()
	defer func() {
		if closeErr := svc.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close service: %v", closeErr))
		}
	}()

	logger := log.NewDefault()

	category, err := categoryArg(cmd)
	if nil != err {
		return err
	}

	query := strings.Join(cmd.Args().Tail(), " ")
	if query == "" {
		return errors.New("search text is required")
	}

	cb := progressCallbacks()

	var res *crawl.Result
	switch category {
	case types.FavoriteArtists:
		res, err = svc.SearchArtists(ctx, query, cb)
	case types.FavoriteAlbums:
		res, err = svc.SearchAlbums(ctx, query, cb)
	case types.FavoriteSongs:
		res, err = svc.SearchSongs(ctx, query, cb)
	}
	if nil != err {
		if errors.Is(err, spotify.ErrNotAuthenticated) {
			logger.Error().Msg("Not logged in. Run the login command first.")

			return exitCodeError(2)
		}

		return fmt.Errorf("search %s: %w", category, err)
	}

	if summary := res.Summary(true); summary != "" {
		logger.Warn().Msg(summary)
	}
	renderTracks(res.Tracks)

	return nil
}

func favoriteMutation(
	ctx context.Context,
	cmd *cli.Command,
	mutate func(ctx context.Context, svc *spotify.Service, category types.FavoriteCategory, tracks []types.Track) error,
) (err error) {
	ctx, stop, svc, err := setup(ctx, cmd)
	if nil != err {
		return err
	}
	defer stop()
	defer func() {
		if closeErr := svc.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close service: %v", closeErr))
		}
	}()

	category, err := categoryArg(cmd)
	if nil != err {
		return err
	}

	ids := cmd.Args().Tail()
	if len(ids) == 0 {
		return errors.New("at least one id is required")
	}

	tracks := make([]types.Track, 0, len(ids))
	for _, id := range ids {
		var track types.Track //nolint:exhaustruct
		switch category {
		case types.FavoriteArtists:
			track.ArtistID = id
		case types.FavoriteAlbums:
			track.AlbumID = id
		case types.FavoriteSongs:
			track.ID = id
		}
		tracks = append(tracks, track)
	}

	return mutate(ctx, svc, category, tracks)
}

func favoriteAdd(ctx context.Context, cmd *cli.Command) error {
	return favoriteMutation(ctx, cmd,
		func(ctx context.Context, svc *spotify.Service, category types.FavoriteCategory, tracks []types.Track) error {
			if err := svc.Favorite(ctx, category, tracks); nil != err {
				return fmt.Errorf("favorite %s: %w", category, err)
			}

			return nil
		})
}

func favoriteRemove(ctx context.Context, cmd *cli.Command) error {
	return favoriteMutation(ctx, cmd,
		func(ctx context.Context, svc *spotify.Service, category types.FavoriteCategory, tracks []types.Track) error {
			if err := svc.Unfavorite(ctx, category, tracks); nil != err {
				return fmt.Errorf("unfavorite %s: %w", category, err)
			}

			return nil
		})
}

func list(ctx context.Context, cmd *cli.Command) (err error) {
	_, stop, svc, err := setup(ctx, cmd)
	if nil != err {
		return err
	}
	defer stop()
	defer func() {
		if closeErr := svc.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close service: %v", closeErr))
		}
	}()

	category, err := categoryArg(cmd)
	if nil != err {
		return err
	}

	tracks, err := svc.Store().List(category)
	if nil != err {
		return fmt.Errorf("list %s: %v", category, err)
	}

	renderTracks(tracks)

	return nil
}

func renderTracks(tracks types.TrackMap) {
	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.AppendHeader(table.Row{"Artist", "Album", "#", "Title", "Duration"})
	w.AppendRows(iterutil.Map(tracks.Tracks(), func(_ int, track types.Track) table.Row {
		return table.Row{
			track.Artist,
			track.Album,
			track.TrackNumber,
			track.Title,
			track.Duration.Round(time.Second).String(),
		}
	}))
	w.SortBy([]table.SortBy{
		{Name: "Artist", Mode: table.Asc}, //nolint:exhaustruct
		{Name: "Album", Mode: table.Asc},  //nolint:exhaustruct
		{Name: "#", Mode: table.AscNumeric}, //nolint:exhaustruct
	})
	w.SetStyle(table.StyleLight)
	w.Render()
}
