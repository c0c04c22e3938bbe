package app

import (
	"context"
	"fmt"

	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"github.com/ggonzalez94/stakechat/internal/model"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	checkOK   = "ok"
	checkFail = "fail"
	checkSkip = "skip"
)

func (s *runtimeState) newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, history storage, chain gateway and delegate directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checks := s.runChecks(cmd.Context())
			if err := s.emitSuccess(trimRootPath(cmd.CommandPath()), checks); err != nil {
				return err
			}
			bad := 0
			for _, c := range checks {
				if c.Status == checkFail {
					bad++
				}
			}
			if bad > 0 {
				return clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%d of %d checks failed", bad, len(checks)))
			}
			return nil
		},
	}
}

// runChecks runs the network checks concurrently; the result order is fixed.
func (s *runtimeState) runChecks(ctx context.Context) []model.DoctorCheck {
	checks := []model.DoctorCheck{
		{Name: "config", Status: checkOK, Detail: fmt.Sprintf("mode=%s wallet=%s backend=%s", s.settings.Mode, s.settings.DefaultWallet, s.settings.HistoryBackend)},
		s.checkHistory(),
		{Name: "chain"},
		{Name: "delegates"},
	}

	// Open shared state before the goroutines touch it.
	resolver := s.delegateResolver()
	client, dialErr := s.chainClient(ctx)

	var g errgroup.Group
	g.Go(func() error {
		switch {
		case dialErr != nil:
			checks[2] = failed("chain", dialErr)
		default:
			wallet := s.settings.DefaultWallet
			if w, ok := s.settings.Wallets[wallet]; ok && w.Coldkey != "" {
				wallet = w.Coldkey
			}
			if _, err := client.Balance(ctx, wallet); err != nil {
				checks[2] = failed("chain", err)
				return nil
			}
			checks[2] = model.DoctorCheck{Name: "chain", Status: checkOK, Detail: fmt.Sprintf("%s reachable, wallet %s readable", s.settings.ChainEndpoint, wallet)}
		}
		return nil
	})
	g.Go(func() error {
		if s.settings.DelegatesURL == "" {
			checks[3] = model.DoctorCheck{Name: "delegates", Status: checkSkip, Detail: "no directory url configured; aliases only"}
			return nil
		}
		snap, err := resolver.Refresh(ctx)
		if err != nil {
			checks[3] = failed("delegates", err)
			return nil
		}
		checks[3] = model.DoctorCheck{Name: "delegates", Status: checkOK, Detail: fmt.Sprintf("%d validators", len(snap.Entries))}
		return nil
	})
	_ = g.Wait()
	return checks
}

func (s *runtimeState) checkHistory() model.DoctorCheck {
	if _, err := s.historyStore(); err != nil {
		return failed("history", err)
	}
	return model.DoctorCheck{Name: "history", Status: checkOK, Detail: s.settings.HistoryBackend + " " + s.settings.HistoryPath}
}

func failed(name string, err error) model.DoctorCheck {
	return model.DoctorCheck{Name: name, Status: checkFail, Detail: err.Error()}
}
