package detection

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/tphakala/pairwatch/internal/errors"
)

// LabelTable maps a class index to a human-readable label.
type LabelTable []string

// Label returns the label for class index i. Indexes outside the table, and
// blank entries, resolve to a synthetic "Class {i}" label.
func (t LabelTable) Label(i int) string {
	if i >= 0 && i < len(t) && t[i] != "" {
		return t[i]
	}
	return fmt.Sprintf("Class %d", i)
}

// LoadLabels reads a label file with one label per line. Blank lines keep
// their position so the line number always equals the class index. A
// trailing newline does not produce an extra entry.
func LoadLabels(path string) (LabelTable, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from settings
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryLabelLoad).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	var labels LabelTable
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryLabelLoad).
			Context("path", path).
			Build()
	}
	if len(labels) == 0 {
		return nil, errors.Newf("label file %s is empty", path).
			Category(errors.CategoryLabelLoad).
			Build()
	}
	return labels, nil
}

// COCOLabels returns the 80 COCO class names in model index order.
func COCOLabels() LabelTable {
	return LabelTable{
		"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
		"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
		"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
		"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
		"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
		"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
		"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake",
		"chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop",
		"mouse", "remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
		"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
		"toothbrush",
	}
}
