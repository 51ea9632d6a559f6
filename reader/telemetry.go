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

package reader

import (
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	rowsOutCounter     otelmetric.Int64Counter
	blocksReadCounter  otelmetric.Int64Counter
	tasksFailedCounter otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/mindrecord/reader")

	var err error
	rowsOutCounter, err = meter.Int64Counter(
		"mindrecord.reader.rows.out",
		otelmetric.WithDescription("Number of rows delivered to the delivery map by row-mode workers"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.out counter: %w", err))
	}

	blocksReadCounter, err = meter.Int64Counter(
		"mindrecord.reader.blocks.read",
		otelmetric.WithDescription("Number of BLOB pages read into the block ring by block-mode workers"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create blocks.read counter: %w", err))
	}

	tasksFailedCounter, err = meter.Int64Counter(
		"mindrecord.reader.tasks.failed",
		otelmetric.WithDescription("Number of worker task failures that interrupted the pipeline"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create tasks.failed counter: %w", err))
	}
}
