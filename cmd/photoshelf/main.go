package main

import (
	"io"
	"os"

	"github.com/photoshelf/photoshelf/pkg/artifacts"
	"github.com/photoshelf/photoshelf/pkg/errcodes"
	"github.com/photoshelf/photoshelf/pkg/folders"
	"github.com/photoshelf/photoshelf/pkg/lifecycle"
	"github.com/photoshelf/photoshelf/pkg/media"
	"github.com/photoshelf/photoshelf/pkg/version"
	"github.com/photoshelf/photoshelf/pkg/worker"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/segmentio/encoding/json"
	"github.com/urfave/cli/v2"
)

func main() {
	log := logger.New()

	app := &cli.App{
		Name:    "photoshelf",
		Usage:   "manage the originals, previews and records of a media library",
		Version: version.Version,
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "create records for files already in the library",
				ArgsUsage: "PATH...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "skip-artifacts", Usage: "don't generate previews"},
				},
				Action: withEnv(func(c *cli.Context, e *env) error {
					var imported []interface{}
					for _, p := range c.Args().Slice() {
						m, err := e.coord.Import(c.Context, lifecycle.ImportOptions{Path: p, SkipArtifacts: c.Bool("skip-artifacts")})
						if m != nil {
							imported = append(imported, m)
						}
						if err != nil {
							_ = printJSON(os.Stdout, imported)
							return err
						}
					}
					return printJSON(os.Stdout, imported)
				}),
			},
			{
				Name:  "scan",
				Usage: "import every file in the library that has no record",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "skip-artifacts", Usage: "don't generate previews"},
				},
				Action: withEnv(func(c *cli.Context, e *env) error {
					result, err := e.worker.Scan(c.Context, worker.ScanOptions{SkipArtifacts: c.Bool("skip-artifacts")})
					if err != nil {
						return err
					}
					return printJSON(os.Stdout, result)
				}),
			},
			{
				Name:      "update",
				Usage:     "apply a batch of record updates from a JSON file (- for stdin)",
				ArgsUsage: "FILE",
				Action: withEnv(func(c *cli.Context, e *env) error {
					r, closeFn, err := openInput(c.Args().First())
					if err != nil {
						return err
					}
					defer closeFn()

					updates, err := parseBatch(r)
					if err != nil {
						return err
					}
					result, err := e.coord.ApplyBatchUpdate(c.Context, updates)
					if err != nil {
						return err
					}
					return printJSON(os.Stdout, result)
				}),
			},
			{
				Name:      "artifacts",
				Usage:     "generate missing previews for records",
				ArgsUsage: "ID...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "recreate", Usage: "regenerate even when a preview exists"},
					&cli.BoolFlag{Name: "dont-persist", Usage: "write to the temp root and leave the record alone"},
				},
				Action: withEnv(func(c *cli.Context, e *env) error {
					opts := artifacts.Options{Recreate: c.Bool("recreate"), DontPersist: c.Bool("dont-persist")}
					var generated []interface{}
					for _, id := range c.Args().Slice() {
						m, err := e.coord.GenerateArtifacts(c.Context, id, opts)
						if err != nil {
							_ = printJSON(os.Stdout, generated)
							return err
						}
						generated = append(generated, m)
					}
					return printJSON(os.Stdout, generated)
				}),
			},
			{
				Name:      "show",
				Usage:     "print a record",
				ArgsUsage: "ID",
				Action: withEnv(func(c *cli.Context, e *env) error {
					m, err := e.media.RetrieveMedia(c.Context, media.RetrieveMediaOptions{ID: pointerutil.String(c.Args().First())})
					if err != nil {
						return err
					}
					return printJSON(os.Stdout, m)
				}),
			},
			{
				Name:  "list",
				Usage: "list records",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "prefix", Usage: "only records under this folder"},
					&cli.IntFlag{Name: "limit", Value: 50},
					&cli.IntFlag{Name: "offset"},
				},
				Action: withEnv(func(c *cli.Context, e *env) error {
					opts := media.ListMediaOptions{
						Limit:  pointerutil.Int(c.Int("limit")),
						Offset: pointerutil.Int(c.Int("offset")),
					}
					if p := c.String("prefix"); p != "" {
						opts.FilepathPrefix = pointerutil.String(folders.Normalize(p))
					}
					records, total, err := e.media.ListMediaWithTotal(c.Context, opts)
					if err != nil {
						return err
					}
					return printJSON(os.Stdout, map[string]interface{}{"data": records, "total": total})
				}),
			},
			{
				Name:  "folders",
				Usage: "inspect or extend the folder registry",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list registered folders",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "prefix"},
						},
						Action: withEnv(func(c *cli.Context, e *env) error {
							opts := folders.ListFoldersOptions{}
							if p := c.String("prefix"); p != "" {
								opts.Prefix = &p
							}
							list, err := e.folders.ListFolders(c.Context, opts)
							if err != nil {
								return err
							}
							return printJSON(os.Stdout, list)
						}),
					},
					{
						Name:      "add",
						Usage:     "register folders",
						ArgsUsage: "PATH...",
						Action: withEnv(func(c *cli.Context, e *env) error {
							list, err := e.folders.AddPaths(c.Context, c.Args().Slice())
							if err != nil {
								return err
							}
							return printJSON(os.Stdout, list)
						}),
					},
				},
			},
			dbCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		code, payload := errcodes.Payload(err)
		_ = printJSON(os.Stderr, payload)
		log.Err(err).Error("command failed", logger.Data{"status_code": code})
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func openInput(name string) (io.Reader, func(), error) {
	if name == "" || name == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, errcodes.ValidationError("can't open batch file: " + err.Error())
	}
	return f, func() { f.Close() }, nil
}
