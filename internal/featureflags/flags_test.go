package featureflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOn_BooleanValues(t *testing.T) {
	s := Parse("a=on,b=off,c=true,d=false,e=1,f=0,g=yes")

	for _, name := range []string{"a", "c", "e", "g"} {
		assert.True(t, s.On(name, 1), name)
	}
	for _, name := range []string{"b", "d", "f", "missing"} {
		assert.False(t, s.On(name, 1), name)
	}
}

func TestOn_Percentages(t *testing.T) {
	s := Parse("always=100%,never=0%,canary=25%,broken=x%")

	assert.True(t, s.On("always", 0))
	assert.False(t, s.On("never", 7))
	assert.False(t, s.On("broken", 7))
	assert.False(t, s.On("canary", 0))

	first := s.On("canary", 42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.On("canary", 42))
	}
}

func TestParse_SkipsMalformedPairs(t *testing.T) {
	s := Parse(" bad ,Call_History = ON, y = 20% ,=off,z=")

	assert.Equal(t, []string{CallHistory, "y"}, s.Names())
	assert.True(t, s.On(CallHistory, 9))
	assert.Len(t, s.For(9), 2)
}

func TestNilSet(t *testing.T) {
	var s *Set
	assert.False(t, s.On(CallHistory, 1))
	assert.Empty(t, s.Names())
}
