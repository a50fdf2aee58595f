//go:build !unix

package sockdtls

// Linux 값을 그대로 사용합니다.
const (
	errnoEAGAIN        = 11
	errnoEADDRNOTAVAIL = 99
	errnoEINVAL        = 22
	errnoEADDRINUSE    = 98
	errnoEAFNOSUPPORT  = 97
	errnoEHOSTUNREACH  = 113
	errnoENOBUFS       = 105
	errnoENOMEM        = 12
	errnoETIMEDOUT     = 110
	errnoECONNRESET    = 104
	errnoENOTCONN      = 107
	errnoEIO           = 5
)
