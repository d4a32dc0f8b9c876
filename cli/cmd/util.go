package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"southwinds.dev/citadel"
)

// addLocationFlags registers the record addressing flags shared by the
// record, store and proc commands.
func addLocationFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "record name (generic addressing)")
	cmd.Flags().Uint64("counter", 0, "record counter (numbered addressing)")
}

// locationFromFlags builds a Location from --name or --counter. Exactly one
// of the two must be provided.
func locationFromFlags(cmd *cobra.Command, container string) (citadel.Location, error) {
	name, err := cmd.Flags().GetString("name")
	if err != nil {
		return citadel.Location{}, err
	}
	counter, err := cmd.Flags().GetUint64("counter")
	if err != nil {
		return citadel.Location{}, err
	}

	counterSet := cmd.Flags().Changed("counter")
	if name == "" && !counterSet {
		return citadel.Location{}, fmt.Errorf("a record address is required: use --name or --counter")
	}
	if name != "" && counterSet {
		return citadel.Location{}, fmt.Errorf("--name and --counter are mutually exclusive")
	}
	if counterSet {
		return citadel.CounterLocation(container, counter), nil
	}
	return citadel.GenericLocation(container, name), nil
}

// recordDataFromFlags reads the record payload from --data or --data-file.
func recordDataFromFlags(cmd *cobra.Command) ([]byte, error) {
	data, err := cmd.Flags().GetString("data")
	if err != nil {
		return nil, err
	}
	file, err := cmd.Flags().GetString("data-file")
	if err != nil {
		return nil, err
	}

	switch {
	case data != "" && file != "":
		return nil, fmt.Errorf("--data and --data-file are mutually exclusive")
	case file != "":
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		return content, nil
	case data != "":
		return []byte(data), nil
	default:
		return nil, fmt.Errorf("record data is required: use --data or --data-file")
	}
}

func hintFromFlags(cmd *cobra.Command) (citadel.RecordHint, error) {
	hint, err := cmd.Flags().GetString("hint")
	if err != nil {
		return citadel.RecordHint{}, err
	}
	return citadel.NewRecordHint(hint), nil
}
