package logfields

import "go.uber.org/zap"

func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

func RepositoryPath(val string) zap.Field {
	return zap.String("git.repository_path", val)
}

func Branch(val string) zap.Field {
	return zap.String("git.branch", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func PreviousCommit(val string) zap.Field {
	return zap.String("git.previous_commit", val)
}
