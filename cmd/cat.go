// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/mindrecord/config"
	"github.com/cardinalhq/mindrecord/reader"
)

var catCmd = &cobra.Command{
	Use:   "cat <shard-file>",
	Short: "Stream a dataset's rows as JSON lines",
	Long:  `Stream (blob, labels) pairs in planned order. Each output line carries the blob length and the resolved labels.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

func init() {
	catCmd.Flags().Int("consumers", 0, "Worker count (0 uses the configured default)")
	catCmd.Flags().StringSlice("columns", nil, "Label columns to resolve (default: all)")
	catCmd.Flags().Bool("block", false, "Stream whole pages through the block ring")
	catCmd.Flags().Bool("shuffle", false, "Shuffle delivery order")
	catCmd.Flags().Int64("limit", 0, "Stop after this many rows (0 = no limit)")
}

func runCat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	consumers, _ := cmd.Flags().GetInt("consumers")
	if consumers == 0 {
		consumers = cfg.Reader.Consumers
	}
	columns, _ := cmd.Flags().GetStringSlice("columns")
	block, _ := cmd.Flags().GetBool("block")
	if !cmd.Flags().Changed("block") {
		block = cfg.Reader.BlockReader
	}
	shuffle, _ := cmd.Flags().GetBool("shuffle")
	limit, _ := cmd.Flags().GetInt64("limit")

	var operators []reader.Operator
	if shuffle {
		operators = append(operators, reader.NewShuffle(cfg.Reader.ShuffleSeed))
	}

	ctx := cmd.Context()
	r, err := reader.Open(ctx, args[0], reader.Options{
		NConsumer:       consumers,
		SelectedColumns: columns,
		Operators:       operators,
		BlockReader:     block,
	})
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer func() { _ = r.Close() }()

	if err := r.Launch(ctx, false); err != nil {
		return fmt.Errorf("launch reader: %w", err)
	}

	out := cmd.OutOrStdout()
	var n int64
	for {
		batch, err := r.GetNext()
		if err != nil {
			return fmt.Errorf("stream row: %w", err)
		}
		if batch == nil {
			return nil
		}
		for _, row := range batch {
			labels, err := json.Marshal(row.Labels)
			if err != nil {
				return fmt.Errorf("marshal labels: %w", err)
			}
			fmt.Fprintf(out, "{\"blob_len\":%d,\"labels\":%s}\n", len(row.Blob), labels)
			n++
			if limit > 0 && n >= limit {
				return nil
			}
		}
	}
}
