package main

import (
	"github.com/spf13/cobra"

	"github.com/Mahoodle/mahara-module-mahoodle/pkg/mahoodle"
)

var (
	sendUserID    int64
	sendID        int64
	sendIDs       []int64
	sendSubject   string
	sendMessage   string
	sendNotifType string

	sendCmd = &cobra.Command{
		Use:   "send",
		Short: "forward a single notification event",
		Long:  "Forward one notification event to the remote webservice and print the outcome",
	}
	sendCreatedCmd = &cobra.Command{
		Use:     "created",
		Short:   "relay a new notification",
		Example: "mahoodle send created --user 7 --id 42 --subject Hello --message 'Body' --type usertype",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd, func(f *mahoodle.Forwarder) (mahoodle.Outcome, error) {
				n := mahoodle.Notification{Subject: sendSubject, Message: sendMessage, UserID: sendUserID}
				return f.NotificationCreated(cmd.Context(), sendID, n, sendNotifType)
			})
		},
	}
	sendReadCmd = &cobra.Command{
		Use:     "read",
		Short:   "relay notifications marked as read",
		Example: "mahoodle send read --user 7 --ids 1,2,3 --type usertype",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd, func(f *mahoodle.Forwarder) (mahoodle.Outcome, error) {
				return f.NotificationRead(cmd.Context(), sendIDs, sendUserID, sendNotifType)
			})
		},
	}
	sendDeletedCmd = &cobra.Command{
		Use:     "deleted",
		Short:   "relay deleted notifications",
		Example: "mahoodle send deleted --user 7 --ids 5 --type usertype",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd, func(f *mahoodle.Forwarder) (mahoodle.Outcome, error) {
				return f.NotificationDeleted(cmd.Context(), sendIDs, sendUserID, sendNotifType)
			})
		},
	}
)

func init() {
	sendCmd.PersistentFlags().Int64VarP(&sendUserID, "user", "u", 0, "local Mahara user id")
	sendCmd.PersistentFlags().StringVarP(&sendNotifType, "type", "t", "", "notification type")
	_ = sendCmd.MarkPersistentFlagRequired("user")

	sendCreatedCmd.Flags().Int64Var(&sendID, "id", 0, "notification id")
	sendCreatedCmd.Flags().StringVarP(&sendSubject, "subject", "s", "", "subject line")
	sendCreatedCmd.Flags().StringVarP(&sendMessage, "message", "m", "", "message body")
	_ = sendCreatedCmd.MarkFlagRequired("id")

	for _, c := range []*cobra.Command{sendReadCmd, sendDeletedCmd} {
		c.Flags().Int64SliceVar(&sendIDs, "ids", nil, "notification ids, comma separated")
		_ = c.MarkFlagRequired("ids")
	}

	sendCmd.AddCommand(sendCreatedCmd, sendReadCmd, sendDeletedCmd)
}

func runSend(cmd *cobra.Command, send func(f *mahoodle.Forwarder) (mahoodle.Outcome, error)) error {
	logger := newLogger()

	a, err := newApp(cmd.Context(), logger, configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := send(a.forwarder)
	if err != nil {
		return err
	}
	printOutcome(cmd, outcome)
	return nil
}
