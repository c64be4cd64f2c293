package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/premath-kernel/issuekernel/internal/instruction"
)

var instructionCmd = &cobra.Command{Use: "instruction", Short: "Instruction envelope operations"}

func init() {
	instructionCmd.AddCommand(instructionCheckCmd)
	instructionCheckCmd.Flags().String("file", "", "path to the instruction envelope JSON file (reads stdin if empty)")
}

var instructionCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate an instruction envelope's shape without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		var raw []byte
		var err error
		if path != "" {
			raw, err = os.ReadFile(path)
		} else {
			raw, err = readAllStdin()
		}
		if err != nil {
			return err
		}

		checked, err := instruction.CheckEnvelope(raw)
		if err != nil {
			return printEnvelope(struct {
				Result     string `json:"result"`
				Diagnostic string `json:"diagnostic"`
			}{Result: "rejected", Diagnostic: err.Error()})
		}
		return printEnvelope(struct {
			Result   string                      `json:"result"`
			Envelope *instruction.CheckedEnvelope `json:"envelope"`
		}{Result: "accepted", Envelope: checked})
	},
}

func readAllStdin() ([]byte, error) {
	return io.ReadAll(os.Stdin)
}
