package config

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	RedisConfig           RedisConfig
	HttpPort              int
	StorageType           StorageType
	ExecutorCapacity      int
	ResumeIntervalSeconds int
	ResumeBatchSize       int
}

type RedisConfig struct {
	Addrs     []string
	Namespace string
}
