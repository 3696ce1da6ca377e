package pool

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/meetbot-dev/meetbot/internal/client"
	"github.com/meetbot-dev/meetbot/pkg/printer"
)

var slotsStatus string

var SlotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "List pool slots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := requireClient()
		if err != nil {
			return err
		}
		slots, err := apiClient.ListSlots(cmd.Context(), slotsStatus)
		if err != nil {
			return fmt.Errorf("failed to list slots: %w", err)
		}
		if p.Structured() {
			return p.Print(slots)
		}
		if len(slots) == 0 {
			fmt.Println("No slots found")
			return nil
		}

		opts := []printer.Option{}
		if p.Wide() {
			opts = append(opts, printer.WithWide())
		}
		t := printer.NewTablePrinter(os.Stdout, opts...)
		t.SetHeaders("Name", "Status", "Bot", "Last Used", "Recovery")
		t.SetWideHeaders("ID", "Workload", "Error")
		now := time.Now()
		for _, s := range slots {
			bot := "<none>"
			if s.AssignedBotID != nil {
				bot = strconv.FormatInt(*s.AssignedBotID, 10)
			}
			t.AddRow(s.SlotName, s.Status, bot, printer.FormatAge(s.LastUsedAt, now), s.RecoveryAttempts,
				s.ID, s.WorkloadID, printer.TruncateString(s.ErrorMessage, 60))
		}
		return t.Render()
	},
}

var DeleteSlotCmd = &cobra.Command{
	Use:   "delete-slot <slot-id>",
	Short: "Delete a slot and its workload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := requireClient(); err != nil {
			return err
		}
		err := apiClient.DeleteSlot(cmd.Context(), args[0])
		if client.IsNotFound(err) {
			return fmt.Errorf("slot %s not found", args[0])
		} else if err != nil {
			return fmt.Errorf("failed to delete slot: %w", err)
		}
		printer.PrintSuccess(fmt.Sprintf("Deleted slot %s", args[0]))
		return nil
	},
}

func init() {
	SlotsCmd.Flags().StringVar(&slotsStatus, "status", "", "Only slots in this status (IDLE, DEPLOYING, HEALTHY, ERROR)")
}
