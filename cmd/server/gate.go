package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/langchou/truckpark/internal/api/gate"
)

// gateReport gate status 的输出
type gateReport struct {
	Group          gate.Group `json:"group"`
	VehiclePresent bool       `json:"vehiclePresent"`
	BoomMissing    []bool     `json:"boomMissing"`
}

func newGateCommand() *cobra.Command {
	var groupName string

	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect or operate a gate group directly",
	}
	cmd.PersistentFlags().StringVar(&groupName, "group", string(gate.Entry), "gate group (entry|exit)")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print induction loop and boom state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, group, err := gateClient(groupName)
			if err != nil {
				return err
			}

			present, err := client.SensorState(cmd.Context(), group, gate.InductionLoop)
			if err != nil {
				return err
			}
			booms, err := client.BoomStates(cmd.Context(), group)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(gateReport{Group: group, VehiclePresent: present, BoomMissing: booms})
		},
	}

	cmd.AddCommand(
		status,
		newActuateCommand("open", "Open the gate group", gate.Open, &groupName),
		newActuateCommand("close", "Close the gate group", gate.Close, &groupName),
	)
	return cmd
}

// newActuateCommand 开闸或关闭，绕过停车记录，仅供现场排障
func newActuateCommand(use, short string, direction gate.Direction, groupName *string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, group, err := gateClient(*groupName)
			if err != nil {
				return err
			}

			if err := client.Actuate(cmd.Context(), group, direction); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s gate %s\n", group, direction)
			return err
		},
	}
}

func gateClient(groupName string) (*gate.Client, gate.Group, error) {
	group, err := gate.ParseGroup(groupName)
	if err != nil {
		return nil, "", err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	logger.Debug("Using gate controllers",
		zap.Strings("entry", cfg.Gates.Entry),
		zap.Strings("exit", cfg.Gates.Exit),
	)
	return gate.NewClient(cfg.Gates.Timeout, cfg.Gates.Entry, cfg.Gates.Exit, nil), group, nil
}
