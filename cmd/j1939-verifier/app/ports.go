package app

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/obdverify/internal/transport"
)

// NewPortsCommand lists the serial ports an SLCAN adapter may be on.
func NewPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports that may host a CAN adapter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := transport.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No serial ports found")
				return nil
			}

			table := uitable.New()
			table.AddRow("PORT", "USB", "VID:PID", "SERIAL")
			for _, p := range ports {
				usb, id := "no", ""
				if p.IsUSB {
					usb, id = "yes", p.VID+":"+p.PID
				}
				table.AddRow(p.Name, usb, id, p.SerialNumber)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}
