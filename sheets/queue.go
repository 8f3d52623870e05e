// Package sheets keeps the work queue in a Google spreadsheet laid out
// like the GmailDetach sheet: a status line in A7 and one message per row
// from row 9, columns A (mark) to H (status).
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jyothri/detach/config"
	"github.com/jyothri/detach/detach"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

const (
	firstRow  = 9 // 1-based sheet row of queue row 1
	statusRow = 7
	numCols   = 8

	colMark    = 0
	colId      = 1
	colSender  = 2
	colSubject = 3
	colDate    = 4
	colCount   = 5
	colSize    = 6
	colStatus  = 7
)

const (
	valueFields = "userEnteredValue"
	colorFields = "userEnteredFormat.textFormat.foregroundColor"
	rowFields   = "userEnteredValue,note,userEnteredFormat.textFormat.foregroundColor,userEnteredFormat.numberFormat"
)

var gray = &sheetsv4.Color{Red: 0.6, Green: 0.6, Blue: 0.6}

// Queue is a detach.Queue over one sheet of a spreadsheet.
type Queue struct {
	svc           *sheetsv4.Service
	spreadsheetId string
	sheet         string
	throttler     *rate.Limiter

	mu      sync.Mutex
	sheetId *int64
	count   int // rows in the queue, -1 when unknown
}

var _ detach.Queue = (*Queue)(nil)

func NewQueue(ctx context.Context, spreadsheetId, sheet string, opts ...option.ClientOption) (*Queue, error) {
	if spreadsheetId == "" {
		return nil, fmt.Errorf("spreadsheet id is blank: %w", detach.ErrUnconfigured)
	}
	svc, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &Queue{
		svc:           svc,
		spreadsheetId: spreadsheetId,
		sheet:         sheet,
		throttler:     rate.NewLimiter(5, 5),
		count:         -1,
	}, nil
}

func (q *Queue) Clear(ctx context.Context) error {
	id, err := q.sheetID(ctx)
	if err != nil {
		return err
	}
	req := &sheetsv4.Request{RepeatCell: &sheetsv4.RepeatCellRequest{
		Range:  &sheetsv4.GridRange{SheetId: id, StartRowIndex: firstRow - 1, EndColumnIndex: numCols, ForceSendFields: []string{"SheetId"}},
		Cell:   &sheetsv4.CellData{},
		Fields: "userEnteredValue,note,userEnteredFormat.textFormat.foregroundColor",
	}}
	if err := q.batch(ctx, req); err != nil {
		return fmt.Errorf("failed to clear sheet %s: %w", q.sheet, err)
	}
	q.setCount(0)
	return nil
}

func (q *Queue) Append(ctx context.Context, row *detach.InventoryRow) error {
	n, err := q.rowCount(ctx)
	if err != nil {
		return err
	}
	id, err := q.sheetID(ctx)
	if err != nil {
		return err
	}
	values := make([]*sheetsv4.CellData, numCols)
	values[colMark] = stringCell(row.Mark)
	values[colId] = stringCell(row.MessageID)
	values[colSender] = stringCell(row.Sender)
	values[colSubject] = stringCell(row.Subject)
	values[colDate] = dateCell(row.Date)
	values[colCount] = numberCell(float64(row.AttachmentCount))
	values[colCount].Note = row.AttachmentNote
	values[colSize] = numberCell(row.TotalSizeMiB)
	values[colStatus] = stringCell(row.Status)
	if row.Done {
		for _, c := range values[colSender:colStatus] {
			greyOut(c)
		}
	}

	if err := q.batch(ctx, updateCells(id, firstRow-1+n, colMark, rowFields, values)); err != nil {
		return fmt.Errorf("failed to append message %s: %w", row.MessageID, err)
	}
	row.Row = n + 1
	q.setCount(n + 1)
	return nil
}

func (q *Queue) Rows(ctx context.Context) ([]detach.InventoryRow, error) {
	if err := q.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := q.svc.Spreadsheets.Get(q.spreadsheetId).
		Ranges(q.a1(fmt.Sprintf("A%d:H", firstRow))).
		IncludeGridData(true).
		Fields("sheets(properties(sheetId,title),data(startRow,rowData(values(userEnteredValue,note,userEnteredFormat(textFormat(foregroundColor))))))").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", q.sheet, err)
	}

	var rows []detach.InventoryRow
	for _, s := range resp.Sheets {
		for _, grid := range s.Data {
			for i, rd := range grid.RowData {
				rows = append(rows, parseRow(i+1, rd))
			}
		}
	}
	q.setCount(len(rows))
	return rows, nil
}

func (q *Queue) SetMarks(ctx context.Context, mark string) error {
	n, err := q.rowCount(ctx)
	if err != nil || n == 0 {
		return err
	}
	id, err := q.sheetID(ctx)
	if err != nil {
		return err
	}
	req := &sheetsv4.Request{RepeatCell: &sheetsv4.RepeatCellRequest{
		Range: &sheetsv4.GridRange{
			SheetId:          id,
			StartRowIndex:    firstRow - 1,
			EndRowIndex:      int64(firstRow - 1 + n),
			StartColumnIndex: colMark,
			EndColumnIndex:   colMark + 1,
			ForceSendFields:  []string{"SheetId", "StartColumnIndex"},
		},
		Cell:   stringCell(mark),
		Fields: valueFields,
	}}
	if err := q.batch(ctx, req); err != nil {
		return fmt.Errorf("failed to set marks: %w", err)
	}
	return nil
}

func (q *Queue) SetMark(ctx context.Context, row int, mark string) error {
	n, err := q.rowCount(ctx)
	if err != nil {
		return err
	}
	if row < 1 || row > n {
		return fmt.Errorf("row %d: %w", row, detach.ErrNotFound)
	}
	id, err := q.sheetID(ctx)
	if err != nil {
		return err
	}
	req := updateCells(id, firstRow-2+row, colMark, valueFields, []*sheetsv4.CellData{stringCell(mark)})
	if err := q.batch(ctx, req); err != nil {
		return fmt.Errorf("failed to mark row %d: %w", row, err)
	}
	return nil
}

func (q *Queue) ResetRow(ctx context.Context, row int, status string) error {
	id, err := q.sheetID(ctx)
	if err != nil {
		return err
	}
	index := firstRow - 2 + row
	reqs := []*sheetsv4.Request{
		updateCells(id, index, colMark, valueFields, []*sheetsv4.CellData{{}, {}}),
		updateCells(id, index, colStatus, valueFields, []*sheetsv4.CellData{stringCell(status)}),
		{RepeatCell: &sheetsv4.RepeatCellRequest{
			Range: &sheetsv4.GridRange{
				SheetId:          id,
				StartRowIndex:    int64(index),
				EndRowIndex:      int64(index + 1),
				StartColumnIndex: colSender,
				EndColumnIndex:   colStatus,
				ForceSendFields:  []string{"SheetId"},
			},
			Cell:   greyOut(&sheetsv4.CellData{}),
			Fields: colorFields,
		}},
	}
	if err := q.batch(ctx, reqs...); err != nil {
		return fmt.Errorf("failed to reset row %d: %w", row, err)
	}
	return nil
}

func (q *Queue) SetStatus(ctx context.Context, text string) error {
	id, err := q.sheetID(ctx)
	if err != nil {
		return err
	}
	req := updateCells(id, statusRow-1, colMark, valueFields, []*sheetsv4.CellData{stringCell(text)})
	if err := q.batch(ctx, req); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return nil
}

// Settings reads the named ranges nthreads, thresize, backupfol, after
// and before.
func (q *Queue) Settings(ctx context.Context) (config.Settings, error) {
	if err := q.wait(ctx); err != nil {
		return config.Settings{}, err
	}
	resp, err := q.svc.Spreadsheets.Values.BatchGet(q.spreadsheetId).
		Ranges(config.SettingKeys...).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("SERIAL_NUMBER").
		Context(ctx).Do()
	if err != nil {
		return config.Settings{}, fmt.Errorf("failed to read named ranges: %w", err)
	}
	values := make(map[string]string, len(config.SettingKeys))
	for i, vr := range resp.ValueRanges {
		if i >= len(config.SettingKeys) || len(vr.Values) == 0 || len(vr.Values[0]) == 0 {
			continue
		}
		key := config.SettingKeys[i]
		values[key] = settingText(key, vr.Values[0][0])
	}
	slog.Debug("Read settings from spreadsheet", "values", values)
	return config.FromValues(values)
}

func (q *Queue) batch(ctx context.Context, reqs ...*sheetsv4.Request) error {
	if err := q.wait(ctx); err != nil {
		return err
	}
	_, err := q.svc.Spreadsheets.BatchUpdate(q.spreadsheetId, &sheetsv4.BatchUpdateSpreadsheetRequest{
		Requests: reqs,
	}).Context(ctx).Do()
	return err
}

func (q *Queue) wait(ctx context.Context) error {
	if err := q.throttler.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	return nil
}

// sheetID looks up the numeric id of the sheet once.
func (q *Queue) sheetID(ctx context.Context) (int64, error) {
	q.mu.Lock()
	if q.sheetId != nil {
		defer q.mu.Unlock()
		return *q.sheetId, nil
	}
	q.mu.Unlock()

	if err := q.wait(ctx); err != nil {
		return 0, err
	}
	resp, err := q.svc.Spreadsheets.Get(q.spreadsheetId).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to read spreadsheet %s: %w", q.spreadsheetId, err)
	}
	for _, s := range resp.Sheets {
		if s.Properties != nil && s.Properties.Title == q.sheet {
			id := s.Properties.SheetId
			q.mu.Lock()
			q.sheetId = &id
			q.mu.Unlock()
			return id, nil
		}
	}
	return 0, fmt.Errorf("sheet %q in spreadsheet %s: %w", q.sheet, q.spreadsheetId, detach.ErrUnconfigured)
}

func (q *Queue) rowCount(ctx context.Context) (int, error) {
	q.mu.Lock()
	n := q.count
	q.mu.Unlock()
	if n >= 0 {
		return n, nil
	}
	rows, err := q.Rows(ctx)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (q *Queue) setCount(n int) {
	q.mu.Lock()
	q.count = n
	q.mu.Unlock()
}

func (q *Queue) a1(cells string) string {
	return "'" + strings.ReplaceAll(q.sheet, "'", "''") + "'!" + cells
}

func updateCells(sheetId int64, rowIndex, colIndex int, fields string, values []*sheetsv4.CellData) *sheetsv4.Request {
	return &sheetsv4.Request{UpdateCells: &sheetsv4.UpdateCellsRequest{
		Start: &sheetsv4.GridCoordinate{
			SheetId:         sheetId,
			RowIndex:        int64(rowIndex),
			ColumnIndex:     int64(colIndex),
			ForceSendFields: []string{"SheetId", "RowIndex", "ColumnIndex"},
		},
		Rows:   []*sheetsv4.RowData{{Values: values}},
		Fields: fields,
	}}
}

func stringCell(s string) *sheetsv4.CellData {
	if s == "" {
		return &sheetsv4.CellData{}
	}
	return &sheetsv4.CellData{UserEnteredValue: &sheetsv4.ExtendedValue{StringValue: googleapi.String(s)}}
}

func numberCell(f float64) *sheetsv4.CellData {
	return &sheetsv4.CellData{UserEnteredValue: &sheetsv4.ExtendedValue{NumberValue: googleapi.Float64(f)}}
}

func dateCell(t time.Time) *sheetsv4.CellData {
	if t.IsZero() {
		return &sheetsv4.CellData{}
	}
	c := numberCell(toSerial(t))
	c.UserEnteredFormat = &sheetsv4.CellFormat{NumberFormat: &sheetsv4.NumberFormat{Type: "DATE_TIME"}}
	return c
}

func greyOut(c *sheetsv4.CellData) *sheetsv4.CellData {
	if c.UserEnteredFormat == nil {
		c.UserEnteredFormat = &sheetsv4.CellFormat{}
	}
	c.UserEnteredFormat.TextFormat = &sheetsv4.TextFormat{ForegroundColor: gray}
	return c
}

func parseRow(n int, rd *sheetsv4.RowData) detach.InventoryRow {
	cell := func(i int) *sheetsv4.CellData {
		if rd == nil || i >= len(rd.Values) || rd.Values[i] == nil {
			return &sheetsv4.CellData{}
		}
		return rd.Values[i]
	}
	row := detach.InventoryRow{
		Row:             n,
		Mark:            cellText(cell(colMark)),
		MessageID:       cellText(cell(colId)),
		Sender:          cellText(cell(colSender)),
		Subject:         cellText(cell(colSubject)),
		AttachmentCount: int(cellNumber(cell(colCount))),
		AttachmentNote:  cell(colCount).Note,
		TotalSizeMiB:    cellNumber(cell(colSize)),
		Status:          cellText(cell(colStatus)),
		Done:            isGray(cell(colSender)),
	}
	if v := cell(colDate).UserEnteredValue; v != nil {
		switch {
		case v.NumberValue != nil:
			row.Date = fromSerial(*v.NumberValue)
		case v.StringValue != nil:
			if t, err := time.Parse(time.RFC3339, *v.StringValue); err == nil {
				row.Date = t
			}
		}
	}
	return row
}

func cellText(c *sheetsv4.CellData) string {
	v := c.UserEnteredValue
	switch {
	case v == nil:
		return ""
	case v.StringValue != nil:
		return *v.StringValue
	case v.NumberValue != nil:
		return fmt.Sprint(*v.NumberValue)
	case v.BoolValue != nil:
		return fmt.Sprint(*v.BoolValue)
	}
	return ""
}

func cellNumber(c *sheetsv4.CellData) float64 {
	if v := c.UserEnteredValue; v != nil && v.NumberValue != nil {
		return *v.NumberValue
	}
	return 0
}

func isGray(c *sheetsv4.CellData) bool {
	f := c.UserEnteredFormat
	if f == nil || f.TextFormat == nil || f.TextFormat.ForegroundColor == nil {
		return false
	}
	col := f.TextFormat.ForegroundColor
	return col.Red > 0 && col.Red == col.Green && col.Green == col.Blue && col.Red < 1
}

// Spreadsheet serial numbers count days from 1899-12-30.
var epoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

func toSerial(t time.Time) float64 {
	return t.Sub(epoch).Hours() / 24
}

func fromSerial(days float64) time.Time {
	secs := math.Round(days * 86400)
	return epoch.Add(time.Duration(secs) * time.Second)
}

// settingText renders a named range value the way config.FromValues
// expects it. Dates arrive as serial numbers.
func settingText(key string, v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if key == config.KeyAfter || key == config.KeyBefore {
			return config.FormatDate(fromSerial(val))
		}
		if val == math.Trunc(val) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprint(val)
	case bool:
		return fmt.Sprint(val)
	}
	return ""
}
