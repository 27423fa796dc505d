package lens

import (
	"strconv"
)

const fixtureScope = "example.com/fixture"

type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) String() string {
	return strconv.FormatFloat(v.X, 'g', -1, 64) + "," +
		strconv.FormatFloat(v.Y, 'g', -1, 64) + "," +
		strconv.FormatFloat(v.Z, 'g', -1, 64)
}

type TestMethods2 struct {
	calls int
}

func (t *TestMethods2) Test2(n int, s string) string {
	t.calls++
	return s + strconv.Itoa(n)
}

func test1(s *string) {
	*s = "hello"
}

func test3(v Vec3, list []int) float64 {
	return v.X + v.Y + v.Z + float64(len(list))
}

func ratio(a, b float64) float64 {
	return a / b
}

func sum(base int, nums ...int) int {
	for _, n := range nums {
		base += n
	}
	return base
}

func swap(a, b *int) bool {
	*a, *b = *b, *a
	return true
}

type level int32

func (l level) String() string {
	return "level-" + strconv.Itoa(int(l))
}
