package common

func Any[T any](array []T, block func(it T) bool) bool {
	for _, it := range array {
		if block(it) {
			return true
		}
	}
	return false
}

func Index[T comparable](arr []T, target T) int {
	for i := range arr {
		if target == arr[i] {
			return i
		}
	}
	return -1
}

func Filter[T any](arr []T, block func(it T) bool) []T {
	var retArr []T
	for _, it := range arr {
		if block(it) {
			retArr = append(retArr, it)
		}
	}
	return retArr
}

func Remove[T comparable](arr []T, target T) []T {
	index := Index(arr, target)
	if index == -1 {
		return arr
	}
	return append(arr[:index], arr[index+1:]...)
}
