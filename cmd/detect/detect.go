// Package detect holds the camera-side command that runs the model on
// images and raises alerts for the watched objects it finds.
package detect

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/pairwatch/internal/app"
	"github.com/tphakala/pairwatch/internal/errors"
)

// Command returns the detect command.
func Command(rt *app.Runtime) *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "detect <image>...",
		Short: "Detect objects in images and alert the paired monitor",
		Example: `  pairwatch detect --code=7KQ2M9XA snapshot.jpg
  pairwatch detect -k 7KQ2M9XA frames/*.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			det, release, err := a.NewDetector()
			if err != nil {
				return err
			}
			defer release()

			out := cmd.OutOrStdout()
			var failed []error
			for _, path := range args {
				res, err := a.DetectAndPublish(cmd.Context(), det, code, path)
				if err != nil && res.Pairing == nil {
					// The pairing itself is unusable; later images would fail too.
					return err
				}
				printResult(out, path, res)
				if err != nil {
					failed = append(failed, fmt.Errorf("%s: %w", path, err))
				}
			}
			return errors.Join(failed...)
		},
	}
	cmd.Flags().StringVarP(&code, "code", "k", "", "Pairing code to raise alerts under")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func printResult(w io.Writer, path string, res app.DetectResult) {
	fmt.Fprintf(w, "%s: %d detection(s), %d alert(s)\n", path, len(res.Detections), len(res.Alerts))
	for _, d := range res.Detections {
		fmt.Fprintf(w, "  %-16s %.2f  [%.0f,%.0f %.0fx%.0f]\n",
			d.Label, d.Confidence, d.Box.X1, d.Box.Y1, d.Box.Width(), d.Box.Height())
	}
	for _, al := range res.Alerts {
		fmt.Fprintf(w, "  alert %s for %s\n", al.ID, al.ObjectLabel)
	}
}
