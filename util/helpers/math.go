package helpers

import "golang.org/x/exp/constraints"

func Min[T constraints.Ordered](numbers ...T) T {
	var min T = numbers[0]
	for _, n := range numbers {
		if n < min {
			min = n
		}
	}
	return min
}

func Max[T constraints.Ordered](numbers ...T) T {
	var max T = numbers[0]
	for _, n := range numbers {
		if n > max {
			max = n
		}
	}
	return max
}

// AlignUp rounds n up to the next multiple of align, which must be a power of two.
func AlignUp[T constraints.Unsigned](n, align T) T {
	return (n + align - 1) &^ (align - 1)
}

func GetBit[T constraints.Unsigned](v T, bit int) bool {
	return v&(1<<bit) != 0
}

func SetBit[T constraints.Unsigned](v *T, bit int, set bool) {
	if set {
		*v |= 1 << bit
	} else {
		*v &^= 1 << bit
	}
}
