package etl_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/CatalogImport/internal/etl"
)

func TestRecordKeepsInsertionOrder(t *testing.T) {
	rec := etl.NewRecord(0)
	rec.Set("b", etl.Int(1))
	rec.Set("a", etl.String("x"))
	rec.Set("b", etl.Int(2))

	require.Equal(t, []string{"b", "a"}, rec.Keys())
	v, ok := rec.Get("b")
	require.True(t, ok)
	require.Equal(t, int64(2), v.IntVal())

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	require.JSONEq(t, `{"b":2,"a":"x"}`, string(raw))
	require.Equal(t, `{"b":2,"a":"x"}`, string(raw))
}

func TestValueText(t *testing.T) {
	cases := []struct {
		in   etl.Value
		want string
		ok   bool
	}{
		{etl.Null(), "", false},
		{etl.Bool(true), "True", true},
		{etl.Bool(false), "False", true},
		{etl.Int(-42), "-42", true},
		{etl.Float(123.45), "123.45", true},
		{etl.Float(25), "25.0", true},
		{etl.String("New York"), "New York", true},
	}
	for _, tc := range cases {
		got, ok := tc.in.Text()
		require.Equal(t, tc.ok, ok, tc.in.Kind().String())
		require.Equal(t, tc.want, got)
	}
}

func TestDecodeRecordPreservesDocumentOrder(t *testing.T) {
	rec, err := etl.DecodeRecord([]byte(`{"zeta": 1, "alpha": 2.5, "nested": {"k": [1,2]}, "flag": false, "none": null}`))
	require.NoError(t, err)
	require.Equal(t, []string{"zeta", "alpha", "nested", "flag", "none"}, rec.Keys())

	zeta, _ := rec.Get("zeta")
	require.Equal(t, etl.KindInt, zeta.Kind())
	alpha, _ := rec.Get("alpha")
	require.Equal(t, 2.5, alpha.FloatVal())
	nested, _ := rec.Get("nested")
	require.Equal(t, `{"k":[1,2]}`, nested.StringVal())
	none, _ := rec.Get("none")
	require.True(t, none.IsNull())
}

func TestWrapKeepsStageErrors(t *testing.T) {
	orig := etl.TransformationError("No extracted data to transform")
	require.Same(t, orig, etl.Wrap(etl.StageLoad, orig, "ignored"))

	wrapped := etl.Wrap(etl.StageExtract, errors.New("disk gone"), "Failed to extract from file")
	require.EqualError(t, wrapped, "Failed to extract from file: disk gone")
	stage, ok := etl.StageOf(fmt.Errorf("outer: %w", wrapped))
	require.True(t, ok)
	require.Equal(t, etl.StageExtract, stage)

	_, ok = etl.StageOf(errors.New("plain"))
	require.False(t, ok)
}

func TestFormatFamily(t *testing.T) {
	require.Equal(t, etl.FamilyTabular, etl.FormatExcel.Family())
	require.Equal(t, etl.FamilyJSON, etl.FormatGeoJSON.Family())
	require.Equal(t, etl.FamilyGeospatial, etl.FormatSpatiaLite.Family())
	require.Equal(t, etl.FamilySQL, etl.FormatSQL.Family())
	require.Equal(t, etl.FamilyOther, etl.FormatBasic.Family())
}
