package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/mchmarny/loanscore/pkg/net"
	urfave "github.com/urfave/cli/v3"
)

const (
	serverURLDefault = "http://localhost:8080"

	urlFlagName    = "url"
	tokenFlagName  = "token"
	statusFlagName = "set"
)

func newRemoteCmd() *urfave.Command {
	return &urfave.Command{
		Name:  "remote",
		Usage: "Call a running loanscore server",
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:    urlFlagName,
				Usage:   "Loanscore server URL",
				Value:   serverURLDefault,
				Sources: urfave.EnvVars("LOANSCORE_URL"),
			},
			&urfave.StringFlag{
				Name:    tokenFlagName,
				Usage:   "API bearer token (see the token command)",
				Sources: urfave.EnvVars("LOANSCORE_TOKEN"),
			},
		},
		Commands: []*urfave.Command{
			{
				Name:   "preview",
				Usage:  "Score an application without storing it",
				Flags:  fieldFlags(),
				Action: cmdRemotePreview,
			},
			{
				Name:   "submit",
				Usage:  "Submit an application",
				Flags:  fieldFlags(),
				Action: cmdRemoteSubmit,
			},
			{
				Name:   "list",
				Usage:  "List your applications, newest first",
				Action: cmdRemoteList,
			},
			{
				Name:      "get",
				Usage:     "Get one application",
				ArgsUsage: "<id>",
				Action:    cmdRemoteGet,
			},
			{
				Name:      "status",
				Usage:     "Set the review status of an application",
				ArgsUsage: "<id>",
				Flags: []urfave.Flag{
					&urfave.StringFlag{
						Name:     statusFlagName,
						Usage:    "New status [pending, approved, rejected]",
						Required: true,
					},
				},
				Action: cmdRemoteStatus,
			},
		},
	}
}

type remoteCall func(ctx context.Context, c *net.Client, cmd *urfave.Command) (any, error)

func runRemote(call remoteCall) urfave.ActionFunc {
	return func(ctx context.Context, cmd *urfave.Command) error {
		st, err := getState(ctx)
		if err != nil {
			return err
		}
		c, err := net.NewClient(ctx, cmd.String(urlFlagName), cmd.String(tokenFlagName))
		if err != nil {
			return err
		}
		v, err := call(ctx, c, cmd)
		if err != nil {
			return err
		}
		return encode(output(cmd), st.format, v)
	}
}

var (
	cmdRemotePreview = runRemote(func(ctx context.Context, c *net.Client, cmd *urfave.Command) (any, error) {
		f, err := fieldsFromFlags(cmd)
		if err != nil {
			return nil, err
		}
		return c.Preview(ctx, f)
	})

	cmdRemoteSubmit = runRemote(func(ctx context.Context, c *net.Client, cmd *urfave.Command) (any, error) {
		f, err := fieldsFromFlags(cmd)
		if err != nil {
			return nil, err
		}
		return c.Submit(ctx, f)
	})

	cmdRemoteList = runRemote(func(ctx context.Context, c *net.Client, _ *urfave.Command) (any, error) {
		return c.List(ctx)
	})

	cmdRemoteGet = runRemote(func(ctx context.Context, c *net.Client, cmd *urfave.Command) (any, error) {
		id, err := idArg(cmd)
		if err != nil {
			return nil, err
		}
		return c.Get(ctx, id)
	})

	cmdRemoteStatus = runRemote(func(ctx context.Context, c *net.Client, cmd *urfave.Command) (any, error) {
		id, err := idArg(cmd)
		if err != nil {
			return nil, err
		}
		return c.SetStatus(ctx, id, cmd.String(statusFlagName))
	})
)

func idArg(cmd *urfave.Command) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", errors.New("exactly one application id required")
	}
	id := cmd.Args().First()
	if id == "" {
		return "", fmt.Errorf("invalid application id: %q", id)
	}
	return id, nil
}
