package main

import (
	"mime"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cjeanneret/capscan/internal/logic/session"
)

func newDecodeCmd(root *rootOptions) *cobra.Command {
	var (
		flagMode string
		flagCopy bool
	)

	cmd := &cobra.Command{
		Use:   "decode <image>",
		Short: "Decode a code from an image file",
		Long:  "Decodes one image file without opening a camera. --mode photo tries every supported format.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := session.ParseMode(flagMode)
			if err != nil {
				return err
			}
			p, err := readFilePayload(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.session.SetMode(mode); err != nil {
				return err
			}
			res, err := a.session.DecodeFromFile(cmd.Context(), p)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, flagCopy)
		},
	}
	cmd.Flags().StringVar(&flagMode, "mode", "qr", "formats to look for: qr, barcode or photo (all)")
	cmd.Flags().BoolVar(&flagCopy, "copy", false, "copy the decoded text to the clipboard")
	return cmd
}

// readFilePayload loads path; the declared type comes from the extension
// and is checked against the content by the session.
func readFilePayload(path string) (session.FilePayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.FilePayload{}, errors.Wrapf(err, "read %s", path)
	}
	return session.FilePayload{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	}, nil
}
