package base

const (
	// DlmsVersion is the only protocol version negotiated by the initiate
	// exchange of this profile.
	DlmsVersion = 0x06

	VAANameLN = 0x0007
	VAANameSN = 0xFA00
)

// Fixed sizes of the association scratch storage, per the COSEM defaults.
const (
	SystemTitleSize  = 8  // application title / system title octets
	LLSSize          = 8  // minimum length of an authentication value
	MaxChallengeSize = 64 // maximum length of an authentication value
)

type Authentication byte

const (
	AuthenticationNone       Authentication = 0 // No authentication is used.
	AuthenticationLow        Authentication = 1 // Low authentication is used.
	AuthenticationHigh       Authentication = 2 // High authentication is used.
	AuthenticationHighMD5    Authentication = 3 // High authentication is used. Password is hashed with MD5.
	AuthenticationHighSHA1   Authentication = 4 // High authentication is used. Password is hashed with SHA1.
	AuthenticationHighGmac   Authentication = 5 // High authentication is used. Password is hashed with GMAC.
	AuthenticationHighSha256 Authentication = 6 // High authentication is used. Password is hashed with SHA-256.
	AuthenticationHighEcdsa  Authentication = 7 // High authentication is used. Password is hashed with ECDSA.
)

type AssociationResult byte

const (
	AssociationResultAccepted          AssociationResult = 0
	AssociationResultPermanentRejected AssociationResult = 1
	AssociationResultTransientRejected AssociationResult = 2
)

type SourceDiagnostic byte

const (
	SourceDiagnosticNone                                       SourceDiagnostic = 0
	SourceDiagnosticNoReasonGiven                              SourceDiagnostic = 1
	SourceDiagnosticApplicationContextNameNotSupported         SourceDiagnostic = 2
	SourceDiagnosticCallingAPTitleNotRecognized                SourceDiagnostic = 3
	SourceDiagnosticCallingAPInvocationIdentifierNotRecognized SourceDiagnostic = 4
	SourceDiagnosticCallingAEQualifierNotRecognized            SourceDiagnostic = 5
	SourceDiagnosticCallingAEInvocationIdentifierNotRecognized SourceDiagnostic = 6
	SourceDiagnosticCalledAPTitleNotRecognized                 SourceDiagnostic = 7
	SourceDiagnosticCalledAPInvocationIdentifierNotRecognized  SourceDiagnostic = 8
	SourceDiagnosticCalledAEQualifierNotRecognized             SourceDiagnostic = 9
	SourceDiagnosticCalledAEInvocationIdentifierNotRecognized  SourceDiagnostic = 10
	SourceDiagnosticAuthenticationMechanismNameNotRecognized   SourceDiagnostic = 11
	SourceDiagnosticAuthenticationMechanismNameRequired        SourceDiagnostic = 12
	SourceDiagnosticAuthenticationFailure                      SourceDiagnostic = 13
	SourceDiagnosticAuthenticationRequired                     SourceDiagnostic = 14
)

type ApplicationContext byte

// Application context definitions
const (
	ApplicationContextNone          ApplicationContext = 0
	ApplicationContextLNNoCiphering ApplicationContext = 1
	ApplicationContextSNNoCiphering ApplicationContext = 2
	ApplicationContextLNCiphering   ApplicationContext = 3
	ApplicationContextSNCiphering   ApplicationContext = 4
)

// Context-specific field numbers of the AARQ grammar.
const (
	PduTypeProtocolVersion            = 0
	PduTypeApplicationContextName     = 1
	PduTypeCalledAPTitle              = 2
	PduTypeCalledAEQualifier          = 3
	PduTypeCalledAPInvocationID       = 4
	PduTypeCalledAEInvocationID       = 5
	PduTypeCallingAPTitle             = 6
	PduTypeCallingAEQualifier         = 7
	PduTypeCallingAPInvocationID      = 8
	PduTypeCallingAEInvocationID      = 9
	PduTypeSenderAcseRequirements     = 10
	PduTypeMechanismName              = 11
	PduTypeCallingAuthenticationValue = 12
	PduTypeImplementationInformation  = 29
	PduTypeUserInformation            = 30
)

// Context-specific field numbers of the AARE grammar; the numbering overlaps
// the request side, the names follow the response fields.
const (
	PduTypeResult                    = 2
	PduTypeResultSourceDiagnostic    = 3
	PduTypeRespondingAPTitle         = 4
	PduTypeResponderAcseRequirements = 8
	PduTypeRespondingMechanismName   = 9
	PduTypeRespondingAuthValue       = 10
)

const (
	BERTypeContext     = 0x80
	BERTypeApplication = 0x40
	BERTypeConstructed = 0x20

	BERTypeInteger          = 0x02
	BERTypeObjectIdentifier = 0x06
	BERTypeOctetString      = 0x04
)

// Conformance block
const (
	ConformanceBlockReservedZero         = 0b100000000000000000000000
	ConformanceBlockGeneralProtection    = 0b010000000000000000000000
	ConformanceBlockGeneralBlockTransfer = 0b001000000000000000000000
	ConformanceBlockRead                 = 0b000100000000000000000000

	ConformanceBlockWrite            = 0b000010000000000000000000
	ConformanceBlockUnconfirmedWrite = 0b000001000000000000000000
	ConformanceBlockReservedSix      = 0b000000100000000000000000
	ConformanceBlockReservedSeven    = 0b000000010000000000000000

	ConformanceBlockAttribute0SupportedWithSet = 0b000000001000000000000000
	ConformanceBlockPriorityMgmtSupported      = 0b000000000100000000000000
	ConformanceBlockAttribute0SupportedWithGet = 0b000000000010000000000000
	ConformanceBlockBlockTransferWithGetOrRead = 0b000000000001000000000000

	ConformanceBlockBlockTransferWithSetOrWrite = 0b000000000000100000000000
	ConformanceBlockBlockTransferWithAction     = 0b000000000000010000000000
	ConformanceBlockMultipleReferences          = 0b000000000000001000000000
	ConformanceBlockInformationReport           = 0b000000000000000100000000

	ConformanceBlockDataNotification   = 0b000000000000000010000000
	ConformanceBlockAccess             = 0b000000000000000001000000
	ConformanceBlockParametrizedAccess = 0b000000000000000000100000
	ConformanceBlockGet                = 0b000000000000000000010000

	ConformanceBlockSet               = 0b000000000000000000001000
	ConformanceBlockSelectiveAccess   = 0b000000000000000000000100
	ConformanceBlockEventNotification = 0b000000000000000000000010
	ConformanceBlockAction            = 0b000000000000000000000001
)

type CosemTag byte

const (
	TagInitiateRequest  CosemTag = 1
	TagInitiateResponse CosemTag = 8
	TagAARQ             CosemTag = 96
	TagAARE             CosemTag = 97
	TagRLRQ             CosemTag = 98
	TagRLRE             CosemTag = 99
)

type ReleaseReason byte

const (
	ReleaseReasonNormal      ReleaseReason = 0
	ReleaseReasonUrgent      ReleaseReason = 1
	ReleaseReasonUserDefined ReleaseReason = 30
)
