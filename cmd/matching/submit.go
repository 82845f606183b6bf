package main

import (
	"encoding/json"
	"fmt"

	"github.com/bkohler93/peermatch/internal/app/matching"
	"github.com/bkohler93/peermatch/internal/shared/match"
	"github.com/spf13/cobra"
)

type submitOptions struct {
	*rootOptions
	userID    string
	email     string
	sessionID string
	payload   map[string]string
}

func newSubmitCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &submitOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <topic_language_difficulty>",
		Short: "Publish a match request to the inbound stream",
		Long: `Publish a match request to the inbound stream.

Example:
  matching submit algorithms_python_easy --email user1@x.com --session ws-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := match.ParseMatchKey(args[0])
			if err != nil {
				return err
			}
			req, err := matching.PrepareRequest(match.PendingRequest{
				UserID:    opts.userID,
				Email:     opts.email,
				SessionID: opts.sessionID,
				Criteria:  k,
				Payload:   opts.payload,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rdb, err := opts.redisClient(ctx)
			if err != nil {
				return err
			}
			defer rdb.Close()

			if err := matching.NewRedisRequestPublisher(rdb).PublishRequest(ctx, k, req); err != nil {
				return fmt.Errorf("failed to publish match request: %w", err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(req)
		},
	}

	cmd.Flags().StringVar(&opts.userID, "user", "", "user id")
	cmd.Flags().StringVar(&opts.email, "email", "", "user email")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "websocket session to notify")
	cmd.Flags().StringToStringVar(&opts.payload, "payload", nil, "extra request fields as key=value")
	return cmd
}
