package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatterVietnamese(t *testing.T) {
	f := NewFormatter("vi")

	assert.Equal(t, "1.500.000 VND", f.Money(1500000))
	assert.Equal(t, "-350.000 VND", f.Money(-350000.4))
	assert.Equal(t, "42%", f.Percent(0.42))
	assert.Equal(t, "17,5%", f.Percent(0.175))
	assert.Equal(t, "2,5 tháng", f.Months(2.5))
	assert.Equal(t, "có", f.Bool(true))
}

func TestFormatterEnglish(t *testing.T) {
	f := NewFormatter("en")

	assert.Equal(t, "1,500,000 VND", f.Money(1500000))
	assert.Equal(t, "42%", f.Percent(0.42))
	assert.Equal(t, "3 months", f.Months(3))
	assert.Equal(t, "no", f.Bool(false))
}

func TestFormatterValueDispatch(t *testing.T) {
	f := NewFormatter("vi")

	assert.Equal(t, "60.000.000 VND", f.Value(60000000.0, "VND"))
	assert.Equal(t, "35%", f.Value(0.35, "%"))
	assert.Equal(t, "6 tháng", f.Value(6, "months"))
	assert.Equal(t, "hold", f.Value("hold", ""))
}
