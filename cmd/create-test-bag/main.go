// Command create-test-bag writes a small synthetic recording for trying
// out the converter without real data.
package main

import (
	"fmt"
	"os"

	"github.com/bagtools/remux/internal/codec"
	"github.com/bagtools/remux/internal/mcap"
)

const counterDefinition = "int32 data"

const headerDefinition = `std_msgs/Header header

================================================================================
MSG: std_msgs/Header
builtin_interfaces/Time stamp
string frame_id

================================================================================
MSG: builtin_interfaces/Time
int32 sec
uint32 nanosec
`

func main() {
	path := "./test-bag.mcap"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	out, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", path, err)
		os.Exit(1)
	}

	w := mcap.NewWriter(out, mcap.DefaultWriterOptions())
	if err := w.Start(mcap.ProfileROS2, "create-test-bag"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start container: %v\n", err)
		os.Exit(1)
	}

	reg := codec.NewRegistry()

	counterSchemaID, err := w.AddSchema("std_msgs/msg/Int32", mcap.SchemaEncodingROS2, []byte(counterDefinition))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to add schema: %v\n", err)
		os.Exit(1)
	}
	counterChannel, err := w.AddChannel("/counter", mcap.MessageEncodingCDR, counterSchemaID, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to add channel: %v\n", err)
		os.Exit(1)
	}

	stampedSchemaID, err := w.AddSchema("test_msgs/msg/Stamped", mcap.SchemaEncodingROS2, []byte(headerDefinition))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to add schema: %v\n", err)
		os.Exit(1)
	}
	stampedChannel, err := w.AddChannel("/stamped", mcap.MessageEncodingCDR, stampedSchemaID, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to add channel: %v\n", err)
		os.Exit(1)
	}

	counterEnc, err := reg.EncoderFor(&mcap.Schema{
		ID:       counterSchemaID,
		Name:     "std_msgs/msg/Int32",
		Encoding: mcap.SchemaEncodingROS2,
		Data:     []byte(counterDefinition),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compile schema: %v\n", err)
		os.Exit(1)
	}
	stampedEnc, err := reg.EncoderFor(&mcap.Schema{
		ID:       stampedSchemaID,
		Name:     "test_msgs/msg/Stamped",
		Encoding: mcap.SchemaEncodingROS2,
		Data:     []byte(headerDefinition),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compile schema: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Writing messages...")
	for i := 0; i < 100; i++ {
		ts := uint64(i+1) * 100_000_000

		data, err := counterEnc(map[string]any{"data": int32(i)})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode message: %v\n", err)
			os.Exit(1)
		}
		if err := w.AddMessage(counterChannel, uint32(i), ts, ts, data); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write message: %v\n", err)
			os.Exit(1)
		}

		if i%10 != 0 {
			continue
		}
		data, err = stampedEnc(map[string]any{
			"header": map[string]any{
				"stamp": map[string]any{
					"sec":     int32(ts / 1_000_000_000),
					"nanosec": uint32(ts % 1_000_000_000),
				},
				"frame_id": "base_link",
			},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode message: %v\n", err)
			os.Exit(1)
		}
		if err := w.AddMessage(stampedChannel, uint32(i), ts, ts, data); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write message: %v\n", err)
			os.Exit(1)
		}
	}

	if err := w.Finish(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to finish container: %v\n", err)
		os.Exit(1)
	}
	if err := out.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close %s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %s\n", path)
	fmt.Println("\nTry it with:")
	fmt.Printf("  remux convert %s ./out\n", path)
}
