package weather

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBody = `{
  "status": 0,
  "result": {
    "location": {"country": "中国", "province": "广东省", "city": "深圳市", "name": "南山区", "id": "440305"},
    "now": {"text": "多云", "temp": 26.5, "feels_like": 28, "rh": 75, "wind_class": "2级", "wind_dir": "东南风"}
  },
  "message": "success"
}`

func TestExtractConformingBody(t *testing.T) {
	p := NewRecordPool(64)
	rec := p.Acquire()
	defer p.Release(rec)

	require.NoError(t, NewExtractor(PolicyAbort, "", nil).Extract([]byte(sampleBody), rec))

	assert.Equal(t, "南山区", rec.LocationName.String())
	assert.Equal(t, "多云", rec.ConditionText.String())
	assert.Equal(t, "2级", rec.WindDescription.String())
	assert.Equal(t, 26.5, rec.Temperature)
	assert.Equal(t, 75, rec.Humidity)
	assert.Empty(t, rec.Missing())
}

func TestExtractHumidityTruncatesTowardZero(t *testing.T) {
	p := NewRecordPool(64)
	rec := p.Acquire()
	defer p.Release(rec)

	body := `{"result":{"location":{"name":"x"},"now":{"text":"晴","temp":-3,"rh":64.9,"wind_class":"1级"}}}`
	require.NoError(t, NewExtractor(PolicyAbort, "", nil).Extract([]byte(body), rec))
	assert.Equal(t, 64, rec.Humidity)
	assert.Equal(t, -3.0, rec.Temperature)
}

func TestExtractTruncatesLongText(t *testing.T) {
	p := NewRecordPool(8)
	rec := p.Acquire()
	defer p.Release(rec)

	require.NoError(t, NewExtractor(PolicyAbort, "", nil).Extract([]byte(sampleBody), rec))
	assert.Equal(t, "南山", rec.LocationName.String())
}

func TestExtractMissingNow(t *testing.T) {
	body := `{"status":0,"result":{"location":{"name":"南山区"}}}`

	t.Run("abort leaves record untouched", func(t *testing.T) {
		p := NewRecordPool(64)
		rec := p.Acquire()
		defer p.Release(rec)

		err := NewExtractor(PolicyAbort, "", nil).Extract([]byte(body), rec)
		require.ErrorIs(t, err, ErrMissingField)
		assert.Contains(t, err.Error(), string(FieldConditionText))
		assert.Empty(t, rec.LocationName.String())
	})

	t.Run("skip keeps zero values", func(t *testing.T) {
		p := NewRecordPool(64)
		rec := p.Acquire()
		defer p.Release(rec)

		require.NoError(t, NewExtractor(PolicySkip, "n/a", nil).Extract([]byte(body), rec))
		assert.Equal(t, "南山区", rec.LocationName.String())
		assert.Empty(t, rec.ConditionText.String())
		assert.Zero(t, rec.Temperature)
		assert.ElementsMatch(t, []Field{FieldConditionText, FieldWindDescription, FieldTemperature, FieldHumidity}, rec.Missing())
	})

	t.Run("default fills text", func(t *testing.T) {
		p := NewRecordPool(64)
		rec := p.Acquire()
		defer p.Release(rec)

		require.NoError(t, NewExtractor(PolicyDefault, "n/a", nil).Extract([]byte(body), rec))
		assert.Equal(t, "n/a", rec.ConditionText.String())
		assert.Equal(t, "n/a", rec.WindDescription.String())
		assert.Zero(t, rec.Humidity)
		assert.Len(t, rec.Missing(), 4)
	})
}

func TestExtractTypeMismatchIsMissing(t *testing.T) {
	p := NewRecordPool(64)
	rec := p.Acquire()
	defer p.Release(rec)

	body := `{"result":{"location":{"name":"x"},"now":{"text":"晴","temp":"hot","rh":50,"wind_class":"1级"}}}`
	err := NewExtractor(PolicyAbort, "", nil).Extract([]byte(body), rec)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestExtractErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"malformed", `{"result":`, ErrMalformedJSON},
		{"not an object", `null`, ErrMalformedJSON},
		{"empty body", ``, ErrMalformedJSON},
		{"trailing garbage", `{"result":{}}xyz`, ErrMalformedJSON},
		{"second document", `{"result":{}} {}`, ErrMalformedJSON},
		{"api status", `{"status":240,"message":"APP 服务被禁用"}`, ErrAPIStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewRecordPool(64)
			rec := p.Acquire()
			defer p.Release(rec)
			assert.ErrorIs(t, NewExtractor(PolicySkip, "", nil).Extract([]byte(tt.body), rec), tt.want)
		})
	}
}

func TestNewExtractorUnknownPolicy(t *testing.T) {
	assert.Equal(t, PolicyAbort, NewExtractor("whatever", "", nil).Policy)
}

func TestExtractAllowsTrailingWhitespace(t *testing.T) {
	p := NewRecordPool(64)
	rec := p.Acquire()
	defer p.Release(rec)

	require.NoError(t, NewExtractor(PolicyAbort, "", nil).Extract([]byte(sampleBody+"\r\n"), rec))
	assert.Equal(t, "多云", rec.ConditionText.String())
}
