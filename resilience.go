package glacialcache

import "github.com/vitaliisemenov/glacialcache/internal/resilience"

func init() {
	resilience.SetRetryClassifier(IsRetryable)
}
