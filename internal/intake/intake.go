// Package intake loads logical prompt rows from an xlsx workbook and
// expands them into backend-specific tasks grouped by channel.
package intake

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/yamakatsunamamugi/autoai/internal/model"
)

// Column headers recognized in the first sheet row (case-insensitive).
const (
	headerPrompt   = "prompt"
	headerTarget   = "target"
	headerModel    = "model"
	headerFunction = "function"
)

// LoadWorkbook reads prompt rows from one sheet of an xlsx workbook. The
// first row must be a header naming the prompt/target/model/function
// columns; blank-prompt rows are skipped with a logged count.
func LoadWorkbook(path, sheetName string) ([]model.Row, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "intake: open workbook %s", path)
	}

	sheet, err := findSheet(f, sheetName)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("intake: sheet %q is empty", sheet.Name)
	}

	cols, err := headerIndex(sheet.Rows[0])
	if err != nil {
		return nil, err
	}

	var rows []model.Row
	skipped := 0
	for i, r := range sheet.Rows[1:] {
		row := model.Row{
			// Sheet row numbers are 1-based and include the header.
			Number:      i + 2,
			Prompt:      strings.TrimSpace(cellAt(r, cols[headerPrompt])),
			Target:      strings.ToLower(strings.TrimSpace(cellAt(r, cols[headerTarget]))),
			ModelKey:    strings.TrimSpace(cellAt(r, cols[headerModel])),
			FunctionKey: strings.TrimSpace(cellAt(r, cols[headerFunction])),
		}
		if row.Prompt == "" {
			skipped++
			continue
		}
		rows = append(rows, row)
	}

	if skipped > 0 {
		zap.L().Info("intake: skipped blank rows",
			zap.String("sheet", sheet.Name),
			zap.Int("skipped", skipped),
		)
	}

	return rows, nil
}

// ExpandRows fans every row out into its backend-specific tasks. Expansion
// happens here exactly once; downstream components never re-expand.
func ExpandRows(rows []model.Row) ([]*model.Task, error) {
	var tasks []*model.Task
	for _, row := range rows {
		expanded, err := row.Expand()
		if err != nil {
			return nil, eris.Wrapf(err, "intake: row %d", row.Number)
		}
		tasks = append(tasks, expanded...)
	}
	return tasks, nil
}

// GroupChannels partitions tasks into channels keyed by backend target,
// ordered by ascending row within each channel and by key across channels.
func GroupChannels(tasks []*model.Task) []model.Channel {
	byKey := make(map[string]*model.Channel)
	for _, t := range tasks {
		ch, ok := byKey[t.Channel]
		if !ok {
			ch = &model.Channel{Key: t.Channel, Backend: t.Backend}
			byKey[t.Channel] = ch
		}
		ch.Tasks = append(ch.Tasks, t)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]model.Channel, 0, len(keys))
	for _, k := range keys {
		ch := byKey[k]
		sort.SliceStable(ch.Tasks, func(i, j int) bool { return ch.Tasks[i].Row < ch.Tasks[j].Row })
		out = append(out, *ch)
	}
	return out
}

func findSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name == "" {
		if len(f.Sheets) == 0 {
			return nil, eris.New("intake: workbook has no sheets")
		}
		return f.Sheets[0], nil
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("intake: sheet %q not found", name)
	}
	return sheet, nil
}

func headerIndex(header *xlsx.Row) (map[string]int, error) {
	cols := map[string]int{}
	for i, cell := range header.Cells {
		cols[strings.ToLower(strings.TrimSpace(cell.String()))] = i
	}
	for _, required := range []string{headerPrompt, headerTarget} {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("intake: header column %q missing", required)
		}
	}
	// Optional columns default to an out-of-range index, read as empty.
	for _, optional := range []string{headerModel, headerFunction} {
		if _, ok := cols[optional]; !ok {
			cols[optional] = -1
		}
	}
	return cols, nil
}

func cellAt(r *xlsx.Row, idx int) string {
	if idx < 0 || idx >= len(r.Cells) {
		return ""
	}
	return r.Cells[idx].String()
}
