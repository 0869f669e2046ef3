package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/route-beacon/wirecodec/internal/decode"
	"github.com/route-beacon/wirecodec/internal/extension"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type decodeOptions struct {
	protocol string
	output   string
	file     string
}

func newDecodeCmd(o *rootOptions) *cobra.Command {
	d := &decodeOptions{}
	cmd := &cobra.Command{
		Use:   "decode [HEX]",
		Short: "Decode hex encoded protocol bytes",
		Long: `Decode hex encoded bytes with the built-in codecs and print the result.

The input is read from the argument, from --file, or from stdin. Whitespace,
colons and a 0x prefix are ignored. --file may also name a binary file when
it does not contain valid hex.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := o.loadTool()
			if err != nil {
				return err
			}
			defer logger.Sync()

			data, err := d.input(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			p, err := extension.NewDefault(logger)
			if err != nil {
				return err
			}
			defer p.Close()

			items, decodeErr := decode.Decode(p, d.protocol, data)
			if len(items) > 0 {
				out, err := decode.Marshal(items, d.output)
				if err != nil {
					return err
				}
				cmd.OutOrStdout().Write(out)
			}
			if decodeErr != nil {
				logger.Debug("decode failed", zap.Int("bytes", len(data)), zap.Error(decodeErr))
				return decodeErr
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&d.protocol, "protocol", "p", "bmp",
		"Protocol to decode: "+strings.Join(decode.Protocols(), ", "))
	cmd.Flags().StringVarP(&d.output, "output", "o", "yaml", "Output format: yaml or json")
	cmd.Flags().StringVarP(&d.file, "file", "f", "", "Read input from file")
	return cmd
}

func (d *decodeOptions) input(stdin io.Reader, args []string) ([]byte, error) {
	switch {
	case len(args) == 1:
		return decode.ParseHex(args[0])
	case d.file != "":
		raw, err := os.ReadFile(d.file)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		if b, err := decode.ParseHex(string(raw)); err == nil {
			return b, nil
		}
		return raw, nil
	}
	raw, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return decode.ParseHex(string(raw))
}
