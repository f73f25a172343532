package model

// RestoreConfig is one entry of the restore configuration catalog.
type RestoreConfig struct {
	// Stable machine key, also the suffix of the result log files
	Tag string
	// Presentation label used by the reporter only
	Label string
}

// Tags of the configurations the sweep produces.
const (
	TagLinux                     = "linux"
	TagELF                       = "elf"
	TagJIFUserspace              = "itrees_jif"
	TagKernel                    = "itrees_jif_k"
	TagKernelSecondApps          = "sa_itrees_jif_k"
	TagKernelSelf                = "self_itrees_jif_k"
	TagKernelPrefetch            = "prefault_itrees_jif_k"
	TagKernelPrefetchReorderFull = "prefault_reorder_minor_itrees_jif_k"
)

// RestoreConfigs is the ordered catalog of restore configurations. The order
// defines iteration and chart order. Tags that the sweep no longer produces
// are kept so older result directories still aggregate.
var RestoreConfigs = []RestoreConfig{
	{TagLinux, "Linux warm"},
	{TagELF, "ELF"},
	{TagJIFUserspace, "JIF\nuserspace"},
	{TagKernel, "JIF\nkernel"},
	{TagKernelSecondApps, "JIF k\nFunction bench\npreviously run"},
	{TagKernelSelf, "JIF k\nThis function\npreviously run"},
	{TagKernelPrefetch, "JIF\nkernel\n(w/ prefetch)"},
	{"prefault_minor_itrees_jif_k", "JIF\nkernel\n(w/ prefetch)\nprefault minor"},
	{"prefault_reorder_itrees_jif_k", "JIF\nkernel\nprefetch)\n(w/ reorder)"},
	{TagKernelPrefetchReorderFull, "JIF k\nFully cold + \nall optimizations"},
	{"prefault_reorder_minor_sa_itrees_jif_k", "JIF\nkernel\n(w/ prefetch)\n(w/ reorder)\nprefault minor\nsa"},
	{"reorder_itrees_jif_k", "JIF\nkernel\nReorder"},
	{"reorder_sa_itrees_jif_k", "JIF\nkernel\n(w/ reorder)\nsa"},

	// Not commonly used ones
	{"reorder_itrees_jif", "JIF\nuserspace\nReordered"},
	{"nora_itrees_jif_k", "JIF\nkernel\nNo RA"},
	{"nora_reorder_itrees_jif_k", "JIF\nkernel\nNo RA\nReorder"},
	{"nora_prefault_itrees_jif_k", "JIF\nkernel\n(w/ prefetch)\nNo RA"},
	{"prefault_reorder_simple_itrees_jif_k", "JIF\nkernel\n(w/ prefetch)\n(w/ reorder)\n(float op)"},
	{"prefault_reorder_self_itrees_jif_k", "JIF\nkernel\n(w/ prefetch)\n(w/ reorder)\n(self)"},
	{"reorder_simple_itrees_jif_k", "JIF\nkernel\n(w/ reorder)\n(float op)"},
	{"reorder_self_itrees_jif_k", "JIF\nkernel\n(w/ reorder)\n(self)"},
	{"nora_prefault_reorder_itrees_jif_k", "JIF\nkernel\n(w/ prefetch)\n(w/ reorder)\nNoRA"},
}

// LabelOf returns the display label of a tag, or the tag itself when unknown.
func LabelOf(tag string) string {
	for _, c := range RestoreConfigs {
		if c.Tag == tag {
			return c.Label
		}
	}
	return tag
}

// TimingLog returns the file name of the timing log of a configuration.
func TimingLog(tag string) string {
	return "restore_images_" + tag
}

// KernelLog returns the file name of the kernel statistics log of a
// configuration.
func KernelLog(tag string) string {
	return TimingLog(tag) + "_kstats"
}
