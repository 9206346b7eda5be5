package cli

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	urfave "github.com/urfave/cli/v3"
)

const (
	rescoreConcurrencyDefault = 2
	concurrencyFlagName       = "concurrency"
)

func newRescoreCmd() *urfave.Command {
	return &urfave.Command{
		Name:   "rescore",
		Usage:  "Retry the prediction for stored applications that have none",
		Action: cmdRescore,
		Flags: append([]urfave.Flag{
			&urfave.StringFlag{
				Name:    userFlagName,
				Aliases: []string{"u"},
				Usage:   "Only rescore applications of this user (default: all users)",
			},
			&urfave.IntFlag{
				Name:  concurrencyFlagName,
				Usage: "Number of applications scored in parallel",
				Value: rescoreConcurrencyDefault,
			},
		}, dbFlags()...),
	}
}

func cmdRescore(ctx context.Context, cmd *urfave.Command) error {
	st, err := getState(ctx)
	if err != nil {
		return err
	}
	applyDBFlags(cmd, st.cfg)

	b, err := openBackend(ctx, st.cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer b.Close()

	res, err := b.service.Rescore(ctx, cmd.String(userFlagName), cmd.Int(concurrencyFlagName))
	if err != nil {
		return err
	}
	return encode(output(cmd), st.format, res)
}
